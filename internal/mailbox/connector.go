// Package mailbox polls an IMAP mailbox and enqueues document attachments
// for ingestion.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/report-extractor/internal/config"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// Message is one raw mail taken from the mailbox.
type Message struct {
	UID        uint32
	MessageID  string
	Subject    string
	From       string
	ReceivedAt time.Time
	Raw        []byte
}

// Fetcher returns messages that have not been processed yet. Fetching leaves
// them unseen; MarkSeen flags them once they have been handled.
type Fetcher interface {
	FetchUnseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// Connector fetches unseen messages over IMAP.
type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	mailbox  string
	fetchMax int
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	fetchMax := cfg.IMAPFetchMax
	if fetchMax <= 0 {
		fetchMax = 20
	}
	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		mailbox:  cfg.IMAPMailbox,
		fetchMax: fetchMax,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// connect dials, logs in and selects the mailbox. The returned stop func
// logs out and releases the context watch.
func (c *Connector) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The IMAP client has no context support; a cancelled poll drops the
	// connection instead.
	unwatch := context.AfterFunc(ctx, func() { _ = client.Terminate() })
	stop := func() {
		unwatch()
		_ = client.Logout()
	}

	if err := client.Login(c.user, c.password); err != nil {
		stop()
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	if _, err := client.Select(c.mailbox, false); err != nil {
		stop()
		return nil, nil, fmt.Errorf("select %s: %w", c.mailbox, err)
	}
	return client, stop, nil
}

// FetchUnseen returns up to the configured number of the newest unseen
// messages. Bodies are fetched with BODY.PEEK so the messages stay unseen.
func (c *Connector) FetchUnseen(ctx context.Context) ([]Message, error) {
	client, stop, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchUnseen: %w", err)
	}
	defer stop()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("FetchUnseen: search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > c.fetchMax {
		ids = ids[len(ids)-c.fetchMax:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	out := make([]Message, 0, len(ids))
	var readErr error
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("FetchUnseen: read body %d: %w", msg.Uid, err)
			continue
		}
		out = append(out, toMessage(msg, raw))
	}
	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("FetchUnseen: fetch: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}

// MarkSeen flags the messages with the given UIDs as \Seen. It does nothing
// when marking is disabled or uids is empty.
func (c *Connector) MarkSeen(ctx context.Context, uids []uint32) error {
	if !c.markSeen || len(uids) == 0 {
		return nil
	}
	client, stop, err := c.connect(ctx)
	if err != nil {
		return fmt.Errorf("MarkSeen: %w", err)
	}
	defer stop()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := client.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("MarkSeen: store: %w", err)
	}
	return nil
}

func toMessage(msg *imap.Message, raw []byte) Message {
	m := Message{UID: msg.Uid, Raw: raw, ReceivedAt: msg.InternalDate.UTC()}
	if msg.Envelope != nil {
		m.MessageID = msg.Envelope.MessageId
		m.Subject = msg.Envelope.Subject
		m.From = formatAddresses(msg.Envelope.From)
	}
	if m.MessageID == "" {
		m.MessageID = fmt.Sprintf("imap-%d", msg.Uid)
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	return m
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(a.MailboxName+"@"+a.HostName, "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
