package smtpd

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strings"

	"zgo.at/emrelay/internal/spool"
	"zgo.at/emrelay/sasl"
)

type session struct {
	server *Server
	conn   net.Conn
	tp     *textproto.Conn
	tls    bool

	helo  string
	sasl  *sasl.ServerState
	auth  bool
	authID string

	writer *spool.Writer
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_, isTLS := conn.(*tls.Conn)
	sess := &session{
		server: s,
		conn:   conn,
		tp:     textproto.NewConn(conn),
		tls:    isTLS,
	}
	sess.resetSASL()
	sess.greet()
	sess.loop()
}

func (s *session) resetSASL() {
	s.sasl = s.server.auth.NewServerState(sasl.ServerOptions{
		Filter: s.server.saslFilter,
		Domain: s.server.challengeDomain,
		APOP:   s.server.allowAPOP,
		Logger: s.server.logger,
	})
}

func (s *session) greet() {
	s.tp.PrintfLine("220 %s ESMTP emrelay", s.server.hostname)
}

func (s *session) reply(code int, msg string) {
	s.tp.PrintfLine("%d %s", code, msg)
}

func (s *session) replyMulti(lines ...string) {
	for i, line := range lines {
		sep := byte('-')
		if i == len(lines)-1 {
			sep = ' '
		}
		s.tp.PrintfLine("%d%c%s", 250, sep, line)
	}
}

func (s *session) loop() {
	for {
		line, err := s.tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg := splitCommand(line)
		switch strings.ToUpper(cmd) {
		case "EHLO", "HELO":
			s.cmdHelo(cmd, arg)
		case "AUTH":
			s.cmdAuth(arg)
		case "MAIL":
			s.cmdMail(arg)
		case "RCPT":
			s.cmdRcpt(arg)
		case "DATA":
			s.cmdData()
		case "RSET":
			s.resetTransaction()
			s.reply(250, "OK")
		case "NOOP":
			s.reply(250, "OK")
		case "QUIT":
			s.reply(221, "Bye")
			return
		default:
			s.reply(500, "Command not recognized")
		}
	}
}

func splitCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return cmd, strings.TrimSpace(arg)
}

func (s *session) cmdHelo(cmd, arg string) {
	if arg == "" {
		s.reply(501, "Syntax: "+cmd+" hostname")
		return
	}
	s.helo = arg
	s.resetTransaction()
	if strings.EqualFold(cmd, "HELO") {
		s.reply(250, s.server.hostname)
		return
	}
	mechs := s.sasl.Mechanisms(s.tls)
	lines := []string{s.server.hostname, "PIPELINING", "8BITMIME", fmt.Sprintf("SIZE %d", s.server.maxMessageSize)}
	if len(mechs) > 0 {
		lines = append(lines, "AUTH "+strings.Join(mechs, " "))
	}
	s.replyMulti(lines...)
}

func (s *session) cmdAuth(arg string) {
	if s.auth {
		s.reply(503, "Already authenticated")
		return
	}
	mechanism, rest, _ := strings.Cut(arg, " ")
	if mechanism == "" {
		s.reply(501, "Syntax: AUTH mechanism")
		return
	}
	if err := s.sasl.SelectMechanism(mechanism, s.tls); err != nil {
		s.reply(504, "Unrecognized authentication type")
		return
	}

	if rest != "" {
		if rest == "=" {
			rest = ""
		} else {
			decoded, err := base64.StdEncoding.DecodeString(rest)
			if err != nil {
				s.reply(501, "Invalid base64")
				return
			}
			rest = string(decoded)
		}
		s.applyAuthResponse(rest)
		return
	}

	if s.sasl.MustChallenge() {
		s.tp.PrintfLine("334 %s", base64.StdEncoding.EncodeToString([]byte(s.sasl.Challenge())))
		s.continueAuth()
		return
	}
	s.applyAuthResponse("")
}

func (s *session) continueAuth() {
	line, err := s.tp.ReadLine()
	if err != nil {
		return
	}
	if line == "*" {
		s.reply(501, "Authentication cancelled")
		s.sasl.Reset()
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		s.reply(501, "Invalid base64")
		return
	}
	s.applyAuthResponse(string(decoded))
}

func (s *session) applyAuthResponse(response string) {
	next, done := s.sasl.Apply(response)
	if !done {
		s.tp.PrintfLine("334 %s", base64.StdEncoding.EncodeToString([]byte(next)))
		s.continueAuth()
		return
	}
	if s.sasl.Authenticated() {
		s.auth = true
		s.authID = s.sasl.ID()
		s.reply(235, "Authentication successful")
	} else {
		s.reply(535, "Authentication failed")
		s.resetSASL()
	}
}

func (s *session) resetTransaction() {
	if s.writer != nil {
		s.writer.Abort()
		s.writer = nil
	}
}

func (s *session) cmdMail(arg string) {
	if s.server.submissionMode && !s.auth {
		s.reply(530, "Authentication required")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}
	from := extractAddress(arg[len("FROM:"):])

	w, err := s.server.store.New()
	if err != nil {
		s.reply(452, "Insufficient system storage")
		return
	}
	w.SetFrom(from)
	if s.authID != "" {
		w.SetAuthID(s.authID)
	}
	s.writer = w
	s.reply(250, "OK")
}

func (s *session) cmdRcpt(arg string) {
	if s.writer == nil {
		s.reply(503, "Need MAIL command")
		return
	}
	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}
	to := extractAddress(arg[len("TO:"):])
	s.writer.AddRcpt(to)
	s.reply(250, "OK")
}

func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j >= 0 {
			return s[i+1 : i+j]
		}
	}
	if i := strings.Index(s, " "); i >= 0 {
		s = s[:i]
	}
	return s
}

func (s *session) cmdData() {
	if s.writer == nil {
		s.reply(503, "Need MAIL/RCPT command first")
		return
	}
	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	dr := s.tp.DotReader()
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := dr.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > s.server.maxMessageSize {
				s.writer.Abort()
				s.writer = nil
				s.reply(552, "Message size exceeds fixed maximum message size")
				return
			}
			if _, werr := s.writer.Write(buf[:n]); werr != nil {
				s.writer.Abort()
				s.writer = nil
				s.reply(452, "Insufficient system storage")
				return
			}
		}
		if err != nil {
			break
		}
	}

	id, err := s.writer.Commit()
	s.writer = nil
	if err != nil {
		s.reply(452, "Insufficient system storage")
		return
	}
	s.server.logger.WithField("id", id).Info("message spooled")
	s.reply(250, "OK: message queued")
}
