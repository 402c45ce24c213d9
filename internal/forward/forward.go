// Package forward implements the relay's egress leg: it drains spooled
// messages (internal/spool) to a single next-hop SMTP server, optionally
// authenticating with the SASL client dialog (sasl.ClientState) driven
// against a real secrets store. Unlike smtp/auth.go's per-call-site Auth
// constructors — built for a known, fixed mechanism — this is where the
// negotiated client dialog (candidate list intersected with whatever the
// next hop actually advertises) gets exercised end to end.
package forward

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"zgo.at/emrelay/internal/secrets"
	"zgo.at/emrelay/internal/spool"
	"zgo.at/emrelay/sasl"
	"zgo.at/emrelay/smtp"
)

// Forwarder drains a Spool to a single upstream SMTP relay.
type Forwarder struct {
	Spool    *spool.Store
	Secrets  *secrets.Store // nil disables AUTH entirely
	Addr     string
	Hostname string // used in EHLO/HELO; defaults to "localhost"

	SASLFilter string
	TLSConfig  *tls.Config // non-nil enables STARTTLS when the next hop offers it

	Logger logrus.FieldLogger
}

func (f *Forwarder) logger() logrus.FieldLogger {
	if f.Logger != nil {
		return f.Logger
	}
	return logrus.StandardLogger()
}

func (f *Forwarder) hostname() string {
	if f.Hostname != "" {
		return f.Hostname
	}
	return "localhost"
}

// ForwardAll attempts every spooled message once, removing each on
// success and leaving failures queued for the next run. It returns one
// error per failed message, not stopping at the first.
func (f *Forwarder) ForwardAll() []error {
	ids, err := f.Spool.List()
	if err != nil {
		return []error{fmt.Errorf("forward: %w", err)}
	}
	var errs []error
	for _, id := range ids {
		if err := f.ForwardOne(id); err != nil {
			errs = append(errs, fmt.Errorf("forward: message %s: %w", id, err))
			f.logger().WithError(err).WithField("id", id).Warn("forward: delivery failed, leaving queued")
			continue
		}
		f.logger().WithField("id", id).Info("forward: delivered")
	}
	return errs
}

// ForwardOne delivers a single spooled message and removes it from the
// spool on success.
func (f *Forwarder) ForwardOne(id string) error {
	env, err := f.Spool.Envelope(id)
	if err != nil {
		return err
	}
	content, err := f.Spool.Content(id)
	if err != nil {
		return err
	}
	defer content.Close()

	client, err := smtp.Dial(f.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Hello(f.hostname()); err != nil {
		return err
	}

	if f.TLSConfig != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(f.TLSConfig); err != nil {
				return err
			}
		}
	}

	if f.Secrets != nil {
		if ok, param := client.Extension("AUTH"); ok {
			state := sasl.NewClient(f.Secrets, sasl.ClientOptions{Filter: f.SASLFilter, Logger: f.logger()})
			state.Intersect(strings.Fields(param))
			if state.Mechanism() != "" {
				if err := client.Auth(&clientAuth{state: state}); err != nil {
					return fmt.Errorf("auth: %w", err)
				}
			}
		}
	}

	if err := client.Mail(env.From, nil); err != nil {
		return err
	}
	for _, rcpt := range env.To {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := client.Quit(); err != nil {
		return err
	}
	return f.Spool.Remove(id)
}

// clientAuth adapts a negotiated sasl.ClientState to smtp.Auth.
type clientAuth struct {
	state *sasl.ClientState
}

func (a *clientAuth) Start() (mech string, ir []byte, err error) {
	mech = a.state.Mechanism()
	if mech == "" {
		return "", nil, errors.New("forward: no usable mechanism after negotiation")
	}
	if text, ok := a.state.InitialResponse(0); ok {
		return mech, []byte(text), nil
	}
	return mech, nil, nil
}

func (a *clientAuth) Next(challenge []byte) (response []byte, err error) {
	resp := a.state.Respond(string(challenge))
	if resp.Error {
		return nil, errors.New("forward: authentication dialog rejected")
	}
	return []byte(resp.Text), nil
}
