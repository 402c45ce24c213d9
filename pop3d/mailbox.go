package pop3d

import (
	"io"

	"zgo.at/emrelay/internal/spool"
)

// SpoolMailboxProvider offers each authenticated user the messages they
// themselves submitted to the spool (matched on the envelope's AuthID),
// since the spool here is an outbound relay queue rather than an inbound
// delivery mailbox.
type SpoolMailboxProvider struct {
	Store *spool.Store
}

// NewSpoolMailboxProvider wraps store as a MailboxProvider.
func NewSpoolMailboxProvider(store *spool.Store) *SpoolMailboxProvider {
	return &SpoolMailboxProvider{Store: store}
}

// Mailbox returns the view of store scoped to messages submitted by user.
func (p *SpoolMailboxProvider) Mailbox(user string) (Mailbox, error) {
	return &spoolMailbox{store: p.Store, user: user}, nil
}

type spoolMailbox struct {
	store *spool.Store
	user  string
}

func (m *spoolMailbox) List() ([]Message, error) {
	ids, err := m.store.List()
	if err != nil {
		return nil, err
	}
	var msgs []Message
	for _, id := range ids {
		env, err := m.store.Envelope(id)
		if err != nil {
			continue
		}
		if env.AuthID != m.user {
			continue
		}
		size, err := m.store.Size(id)
		if err != nil {
			continue
		}
		msgs = append(msgs, Message{ID: id, Size: size})
	}
	return msgs, nil
}

func (m *spoolMailbox) owns(id string) bool {
	env, err := m.store.Envelope(id)
	if err != nil {
		return false
	}
	return env.AuthID == m.user
}

func (m *spoolMailbox) Retrieve(id string) (io.ReadCloser, error) {
	if !m.owns(id) {
		return nil, errNoSuchMessage
	}
	return m.store.Content(id)
}

func (m *spoolMailbox) Delete(id string) error {
	if !m.owns(id) {
		return errNoSuchMessage
	}
	return m.store.Remove(id)
}
