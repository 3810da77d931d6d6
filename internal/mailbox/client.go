package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrNotConnected is returned when an operation needs an established session.
var ErrNotConnected = errors.New("not connected to IMAP server")

const loginAttempts = 3

// SearchCriteria describes which messages a harvest run should consider.
type SearchCriteria struct {
	UnseenOnly bool
	Since      time.Time // inclusive lower bound on the sent date
	Before     time.Time // exclusive upper bound on the sent date
	MinUID     uint32    // only UIDs strictly greater than this are returned
}

// ClientConfig configuration for the IMAP client.
type ClientConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DialTimeout time.Duration
}

// Client wraps a single authenticated IMAP session over TLS.
type Client struct {
	config    ClientConfig
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("user", cfg.User),
	}
}

// Connect validates the connection settings, dials the server over TLS,
// logs in with retries and selects INBOX.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if c.config.Host == "" || c.config.User == "" || c.config.Password == "" {
		return errors.New("missing required connection parameters (host/user/password)")
	}
	if c.config.Port < 1 || c.config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.config.Port)
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	c.logger.Info("connecting to IMAP server", "server", addr)

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}

	// Transient auth failures get retried with exponential backoff.
	var loginErr error
	for attempt := 0; attempt < loginAttempts; attempt++ {
		loginErr = imapClient.Login(c.config.User, c.config.Password)
		if loginErr == nil {
			break
		}
		if attempt < loginAttempts-1 {
			delay := time.Second << attempt
			c.logger.Warn("login attempt failed, retrying", "attempt", attempt+1, "delay", delay, "error", loginErr)
			select {
			case <-ctx.Done():
				imapClient.Logout()
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if loginErr != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", loginErr)
	}

	mbox, err := imapClient.Select("INBOX", false)
	if err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	c.client = imapClient
	c.connected = true
	c.logger.Info("connected to IMAP server", "messages", mbox.Messages)

	return nil
}

// SearchUIDs returns the UIDs matching the criteria, newest first.
func (c *Client) SearchUIDs(criteria SearchCriteria) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, ErrNotConnected
	}

	search := imap.NewSearchCriteria()
	if criteria.UnseenOnly {
		search.WithoutFlags = []string{imap.SeenFlag}
	}
	if !criteria.Since.IsZero() {
		search.Since = criteria.Since
	}
	if !criteria.Before.IsZero() {
		// IMAP BEFORE excludes the named day, so push the bound one day out
		// to keep the whole requested day in range.
		search.Before = criteria.Before.AddDate(0, 0, 1)
	}
	if criteria.MinUID > 0 {
		floor := new(imap.SeqSet)
		floor.AddRange(criteria.MinUID+1, 0)
		search.Uid = floor
	}

	uids, err := c.client.UidSearch(search)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

// FetchBatch fetches full messages for the given UIDs in batches of at most
// batchSize, calling fn for each. An error from fn or from the fetch itself
// stops the scan and is returned.
func (c *Client) FetchBatch(uids []uint32, batchSize int, fn func(*imap.Message) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	section := BodySection()
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		section.FetchItem(),
	}

	for start := 0; start < len(uids); start += batchSize {
		end := start + batchSize
		if end > len(uids) {
			end = len(uids)
		}

		c.mu.Lock()
		if !c.connected || c.client == nil {
			c.mu.Unlock()
			return ErrNotConnected
		}
		cli := c.client
		c.mu.Unlock()

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[start:end]...)

		messages := make(chan *imap.Message, batchSize)
		done := make(chan error, 1)
		go func() {
			done <- cli.UidFetch(seqSet, items, messages)
		}()

		var fnErr error
		for msg := range messages {
			if fnErr != nil {
				continue // drain the channel
			}
			fnErr = fn(msg)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch: %w", err)
		}
		if fnErr != nil {
			return fnErr
		}
	}

	return nil
}

// MarkSeen adds the \Seen flag to a message. Best effort: failures are
// logged, never returned, since the flag is a convenience only.
func (c *Client) MarkSeen(uid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		c.logger.Warn("failed to mark message as seen", "uid", uid, "error", err)
	}
}

// Logout closes the session cleanly.
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.client != nil {
		if err := c.client.Logout(); err != nil {
			c.logger.Debug("logout failed", "error", err)
		}
		c.client = nil
	}
}

// Disconnect drops the session state after a broken connection so a later
// Connect starts fresh.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.client != nil {
		c.client.Terminate()
		c.client = nil
	}
}

// IsConnected returns whether the client holds an open session.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// BodySection is the fetch section used for full message bodies.
func BodySection() *imap.BodySectionName {
	return &imap.BodySectionName{}
}
