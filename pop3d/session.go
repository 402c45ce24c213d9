package pop3d

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"zgo.at/emrelay/sasl"
)

var errNoSuchMessage = errors.New("pop3d: no such message")

// state tracks RFC 1939's AUTHORIZATION -> TRANSACTION -> UPDATE machine.
type state int

const (
	stateAuthorization state = iota
	stateTransaction
)

type slot struct {
	id      string
	size    int64
	deleted bool
}

type session struct {
	server *Server
	conn   net.Conn
	tp     *textproto.Conn
	secure bool

	sasl          *sasl.ServerState
	apopChallenge string
	user          string

	state   state
	mailbox Mailbox
	slots   []slot
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	defer tp.Close()

	_, secure := conn.(*tls.Conn)

	sess := &session{
		server: s,
		conn:   conn,
		tp:     tp,
		secure: secure,
		state:  stateAuthorization,
	}
	sess.resetSASL()
	sess.greet()
	sess.loop()
}

func (s *session) resetSASL() {
	s.sasl = s.server.auth.NewServerState(sasl.ServerOptions{
		Filter: s.server.saslFilter,
		Domain: s.server.domain,
		APOP:   s.server.allowAPOP,
		Logger: s.server.logger,
	})
	s.apopChallenge = ""
	if s.server.allowAPOP {
		if err := s.sasl.SelectMechanism(sasl.APOP, s.secure); err == nil {
			s.apopChallenge = s.sasl.Challenge()
		}
	}
}

func (s *session) greet() {
	if s.apopChallenge != "" {
		s.reply("+OK POP3 server ready %s", s.apopChallenge)
		return
	}
	s.reply("+OK POP3 server ready")
}

func (s *session) reply(format string, args ...interface{}) {
	s.tp.PrintfLine(format, args...)
}

func (s *session) loop() {
	for {
		line, err := s.tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg := splitCommand(line)
		switch strings.ToUpper(cmd) {
		case "CAPA":
			s.cmdCapa()
		case "USER":
			s.cmdUser(arg)
		case "PASS":
			s.cmdPass(arg)
		case "APOP":
			s.cmdApop(arg)
		case "AUTH":
			s.cmdAuth(arg)
		case "QUIT":
			s.cmdQuit()
			return
		case "NOOP":
			if s.state != stateTransaction {
				s.reply("-ERR command not valid in this state")
				continue
			}
			s.reply("+OK")
		case "STAT":
			s.cmdStat()
		case "LIST":
			s.cmdList(arg)
		case "UIDL":
			s.cmdUidl(arg)
		case "RETR":
			s.cmdRetr(arg)
		case "DELE":
			s.cmdDele(arg)
		case "RSET":
			s.cmdRset()
		case "TOP":
			s.cmdTop(arg)
		default:
			s.reply("-ERR unknown command")
		}
	}
}

func splitCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return cmd, strings.TrimSpace(arg)
}

func (s *session) cmdCapa() {
	s.tp.PrintfLine("+OK Capability list follows")
	s.tp.PrintfLine("USER")
	s.tp.PrintfLine("UIDL")
	s.tp.PrintfLine("TOP")
	if mechs := s.sasl.Mechanisms(s.secure); len(mechs) > 0 {
		s.tp.PrintfLine("SASL %s", strings.Join(mechs, " "))
	}
	s.tp.PrintfLine(".")
}

func (s *session) cmdUser(arg string) {
	if s.state != stateAuthorization {
		s.reply("-ERR command not valid in this state")
		return
	}
	if arg == "" {
		s.reply("-ERR missing username")
		return
	}
	s.user = arg
	s.reply("+OK send PASS")
}

func (s *session) cmdPass(arg string) {
	if s.state != stateAuthorization {
		s.reply("-ERR command not valid in this state")
		return
	}
	if s.user == "" {
		s.reply("-ERR USER required first")
		return
	}
	if err := s.sasl.SelectMechanism(sasl.Plain, s.secure); err != nil {
		s.reply("-ERR authentication not available")
		return
	}
	s.sasl.Apply("\x00" + s.user + "\x00" + arg)
	s.finishAuth()
}

func (s *session) cmdApop(arg string) {
	if s.state != stateAuthorization {
		s.reply("-ERR command not valid in this state")
		return
	}
	if !s.server.allowAPOP || s.apopChallenge == "" {
		s.reply("-ERR APOP not available")
		return
	}
	// A prior PASS/AUTH attempt on this connection may have moved the
	// dialog onto a different mechanism; APOP's challenge was already
	// fixed in the greeting banner, so only re-select if needed.
	if s.sasl.Mechanism() != sasl.APOP {
		s.sasl.SelectMechanism(sasl.APOP, s.secure)
	}
	s.sasl.Apply(arg)
	s.finishAuth()
}

func (s *session) cmdAuth(arg string) {
	if s.state != stateAuthorization {
		s.reply("-ERR command not valid in this state")
		return
	}
	mechanism, initial, _ := strings.Cut(arg, " ")
	if mechanism == "" {
		s.reply("-ERR missing mechanism")
		return
	}
	if err := s.sasl.SelectMechanism(mechanism, s.secure); err != nil {
		s.reply("-ERR mechanism not supported")
		return
	}

	if initial != "" {
		s.applyAuthResponse(initial)
		return
	}
	if s.sasl.MustChallenge() {
		s.reply("+ %s", base64.StdEncoding.EncodeToString([]byte(s.sasl.Challenge())))
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
		s.reply("-ERR authentication cancelled")
		s.sasl.Reset()
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		s.reply("-ERR malformed response")
		s.sasl.Reset()
		return
	}
	s.applyAuthResponse(string(decoded))
}

func (s *session) applyAuthResponse(response string) {
	next, done := s.sasl.Apply(response)
	if !done {
		s.reply("+ %s", base64.StdEncoding.EncodeToString([]byte(next)))
		s.continueAuth()
		return
	}
	s.finishAuth()
}

func (s *session) finishAuth() {
	if !s.sasl.Authenticated() {
		s.reply("-ERR authentication failed")
		s.sasl.Reset()
		return
	}
	s.user = s.sasl.ID()
	if err := s.enterTransaction(); err != nil {
		s.server.logger.WithError(err).Warn("pop3d: failed to open mailbox")
		s.reply("-ERR mailbox unavailable")
		return
	}
	s.reply("+OK authenticated")
}

func (s *session) enterTransaction() error {
	mb, err := s.server.mailboxes.Mailbox(s.user)
	if err != nil {
		return err
	}
	msgs, err := mb.List()
	if err != nil {
		return err
	}
	s.mailbox = mb
	s.slots = make([]slot, len(msgs))
	for i, m := range msgs {
		s.slots[i] = slot{id: m.ID, size: m.Size}
	}
	s.state = stateTransaction
	return nil
}

func (s *session) lookup(numStr string) (int, *slot, error) {
	n, err := strconv.Atoi(numStr)
	if err != nil || n < 1 || n > len(s.slots) {
		return 0, nil, errNoSuchMessage
	}
	sl := &s.slots[n-1]
	if sl.deleted {
		return 0, nil, errNoSuchMessage
	}
	return n, sl, nil
}

func (s *session) cmdStat() {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	var count int
	var total int64
	for _, sl := range s.slots {
		if !sl.deleted {
			count++
			total += sl.size
		}
	}
	s.reply("+OK %d %d", count, total)
}

func (s *session) cmdList(arg string) {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	if arg != "" {
		n, sl, err := s.lookup(arg)
		if err != nil {
			s.reply("-ERR no such message")
			return
		}
		s.reply("+OK %d %d", n, sl.size)
		return
	}
	s.tp.PrintfLine("+OK scan listing follows")
	for i, sl := range s.slots {
		if sl.deleted {
			continue
		}
		s.tp.PrintfLine("%d %d", i+1, sl.size)
	}
	s.tp.PrintfLine(".")
}

func (s *session) cmdUidl(arg string) {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	if arg != "" {
		n, sl, err := s.lookup(arg)
		if err != nil {
			s.reply("-ERR no such message")
			return
		}
		s.reply("+OK %d %s", n, sl.id)
		return
	}
	s.tp.PrintfLine("+OK unique-id listing follows")
	for i, sl := range s.slots {
		if sl.deleted {
			continue
		}
		s.tp.PrintfLine("%d %s", i+1, sl.id)
	}
	s.tp.PrintfLine(".")
}

func (s *session) cmdRetr(arg string) {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	_, sl, err := s.lookup(arg)
	if err != nil {
		s.reply("-ERR no such message")
		return
	}
	rc, err := s.mailbox.Retrieve(sl.id)
	if err != nil {
		s.reply("-ERR no such message")
		return
	}
	defer rc.Close()
	s.tp.PrintfLine("+OK %d octets", sl.size)
	if err := writeDotStuffed(s.tp, rc, -1); err != nil {
		s.server.logger.WithError(err).Warn("pop3d: error sending message")
	}
}

func (s *session) cmdTop(arg string) {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	numStr, linesStr, ok := strings.Cut(arg, " ")
	if !ok {
		s.reply("-ERR usage: TOP n lines")
		return
	}
	lines, err := strconv.Atoi(strings.TrimSpace(linesStr))
	if err != nil || lines < 0 {
		s.reply("-ERR bad line count")
		return
	}
	_, sl, err := s.lookup(numStr)
	if err != nil {
		s.reply("-ERR no such message")
		return
	}
	rc, err := s.mailbox.Retrieve(sl.id)
	if err != nil {
		s.reply("-ERR no such message")
		return
	}
	defer rc.Close()
	s.tp.PrintfLine("+OK top of message follows")
	if err := writeDotStuffed(s.tp, rc, lines); err != nil {
		s.server.logger.WithError(err).Warn("pop3d: error sending message")
	}
}

func (s *session) cmdDele(arg string) {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	_, sl, err := s.lookup(arg)
	if err != nil {
		s.reply("-ERR no such message")
		return
	}
	sl.deleted = true
	s.reply("+OK message marked for deletion")
}

func (s *session) cmdRset() {
	if s.state != stateTransaction {
		s.reply("-ERR command not valid in this state")
		return
	}
	for i := range s.slots {
		s.slots[i].deleted = false
	}
	s.reply("+OK")
}

func (s *session) cmdQuit() {
	if s.state == stateTransaction {
		for _, sl := range s.slots {
			if !sl.deleted {
				continue
			}
			if err := s.mailbox.Delete(sl.id); err != nil {
				s.server.logger.WithError(err).Warn("pop3d: failed to expunge message")
			}
		}
	}
	s.reply("+OK goodbye")
}

// writeDotStuffed copies r to tp line by line, dot-stuffing lines that
// begin with "." and terminating with the standard "." line. If
// maxBodyLines is >= 0, only the headers, the blank separator line, and
// the first maxBodyLines lines of the body are sent (RFC 1939 TOP).
func writeDotStuffed(tp *textproto.Conn, r io.Reader, maxBodyLines int) error {
	br := bufio.NewReader(r)
	inBody := false
	bodyLines := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if inBody {
				if maxBodyLines >= 0 && bodyLines >= maxBodyLines {
					if err == nil {
						continue
					}
					break
				}
				bodyLines++
			}
			if strings.HasPrefix(line, ".") {
				line = "." + line
			}
			if writeErr := tp.PrintfLine("%s", line); writeErr != nil {
				return writeErr
			}
			if !inBody && line == "" {
				inBody = true
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return tp.PrintfLine(".")
}
