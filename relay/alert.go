// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"

	"github.com/go-daq/tdaq/log"
	mail "gopkg.in/gomail.v2"
)

// Mailer sends best-effort operator alerts. Credentials come from the
// environment (MAIL_USR, MAIL_PWD, MAIL_SRV, MAIL_PORT, MAIL_TGTS);
// without them, Notify is a no-op.
type Mailer struct {
	msg log.MsgStream

	usr  string
	pwd  string
	srv  string
	port int
	tgts []string
}

// NewMailerFromEnv reads the alert-mail credentials from the
// environment.
func NewMailerFromEnv(msg log.MsgStream) *Mailer {
	m := &Mailer{
		msg: msg,
		usr: os.Getenv("MAIL_USR"),
		pwd: os.Getenv("MAIL_PWD"),
		srv: os.Getenv("MAIL_SRV"),
	}
	m.port, _ = strconv.Atoi(os.Getenv("MAIL_PORT"))
	if tgts := os.Getenv("MAIL_TGTS"); tgts != "" {
		m.tgts = strings.Split(tgts, ",")
	}
	return m
}

func (m *Mailer) enabled() bool {
	return m.usr != "" && m.pwd != "" && m.srv != "" && m.port != 0 && len(m.tgts) > 0
}

// Notify sends an alert mail in the background.
func (m *Mailer) Notify(subject, body string) {
	if !m.enabled() {
		return
	}
	go m.send(subject, body)
}

func (m *Mailer) send(subject, body string) {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.usr)
	msg.SetHeader("Bcc", m.tgts...)
	msg.SetHeader("Subject", "[edi-relay] "+subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(m.srv, m.port, m.usr, m.pwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		m.msg.Warnf("relay: could not send mail alert: %+v", err)
	}
}
