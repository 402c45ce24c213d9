package forward_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"zgo.at/emrelay/internal/authstore"
	"zgo.at/emrelay/internal/forward"
	"zgo.at/emrelay/internal/secrets"
	"zgo.at/emrelay/internal/spool"
	"zgo.at/emrelay/smtpd"
)

func writeSecrets(t *testing.T, text string) *secrets.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := secrets.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func startUpstream(t *testing.T, secretsText string) (addr string, upstreamSpool *spool.Store, cleanup func()) {
	t.Helper()
	upstreamSecrets := writeSecrets(t, secretsText)
	upstreamSpool, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := smtpd.NewServer(upstreamSpool, authstore.New(upstreamSecrets),
		smtpd.WithAddr("127.0.0.1:0"),
		smtpd.WithHostname("upstream.example.test"),
		smtpd.WithSubmissionMode(true),
	)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	return ln.Addr().String(), upstreamSpool, func() { srv.Close() }
}

func queueOutbound(t *testing.T, st *spool.Store, from string, to []string, body string) string {
	t.Helper()
	w, err := st.New()
	if err != nil {
		t.Fatal(err)
	}
	w.SetFrom(from)
	for _, r := range to {
		w.AddRcpt(r)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	id, err := w.Commit()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestForwardOneDeliversAndRemovesFromSpool(t *testing.T) {
	addr, upstreamSpool, cleanup := startUpstream(t, "server plain relay relay-password\n")
	defer cleanup()

	outbound, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id := queueOutbound(t, outbound, "sender@example.test", []string{"rcpt@example.test"}, "Subject: hi\r\n\r\nbody\r\n")

	f := &forward.Forwarder{
		Spool:    outbound,
		Secrets:  writeSecrets(t, "client plain relay relay-password\n"),
		Addr:     addr,
		Hostname: "client.example.test",
	}
	if err := f.ForwardOne(id); err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	ids, err := outbound.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected delivered message to be removed from outbound spool, got %v", ids)
	}

	upIDs, err := upstreamSpool.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(upIDs) != 1 {
		t.Fatalf("expected one delivered message upstream, got %d", len(upIDs))
	}
	env, err := upstreamSpool.Envelope(upIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if env.From != "sender@example.test" || len(env.To) != 1 || env.To[0] != "rcpt@example.test" {
		t.Errorf("got %+v", env)
	}
	if env.AuthID != "relay" {
		t.Errorf("expected upstream to record authid relay, got %q", env.AuthID)
	}
}

func TestForwardOneLeavesMessageQueuedOnAuthFailure(t *testing.T) {
	addr, _, cleanup := startUpstream(t, "server plain relay relay-password\n")
	defer cleanup()

	outbound, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id := queueOutbound(t, outbound, "sender@example.test", []string{"rcpt@example.test"}, "Subject: hi\r\n\r\nbody\r\n")

	f := &forward.Forwarder{
		Spool:    outbound,
		Secrets:  writeSecrets(t, "client plain relay wrong-password\n"),
		Addr:     addr,
		Hostname: "client.example.test",
	}
	if err := f.ForwardOne(id); err == nil {
		t.Fatal("expected forwarding to fail with a bad credential")
	}

	ids, err := outbound.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected failed message to remain queued, got %v", ids)
	}
}

func TestForwardAllCollectsErrorsButKeepsGoing(t *testing.T) {
	addr, upstreamSpool, cleanup := startUpstream(t, "server plain relay relay-password\n")
	defer cleanup()

	outbound, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	queueOutbound(t, outbound, "sender@example.test", []string{"good@example.test"}, "Subject: a\r\n\r\nbody\r\n")
	queueOutbound(t, outbound, "sender@example.test", []string{"also-good@example.test"}, "Subject: b\r\n\r\nbody\r\n")

	f := &forward.Forwarder{
		Spool:    outbound,
		Secrets:  writeSecrets(t, "client plain relay relay-password\n"),
		Addr:     addr,
		Hostname: "client.example.test",
	}
	errs := f.ForwardAll()
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	ids, err := outbound.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected all messages delivered, got %v", ids)
	}
	upIDs, err := upstreamSpool.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(upIDs) != 2 {
		t.Fatalf("expected two delivered messages, got %d", len(upIDs))
	}
}
