// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-daq/tdaq/log"
)

// serveWeb exposes the status snapshot as JSON over HTTP until the
// context is cancelled.
func serveWeb(ctx context.Context, port int, sup *Supervisor, msg log.MsgStream) error {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/status.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, sup.Snapshot())
	})
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/status.json")
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	errch := make(chan error, 1)
	go func() {
		msg.Infof("relay: web status on :%d", port)
		errch <- srv.ListenAndServe()
	}()

	select {
	case err := <-errch:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay: web server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
