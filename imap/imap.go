package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/imap2slack/fetch"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// DebugWriter receives the raw protocol traffic when set.
	DebugWriter io.Writer
	// FragmentSize is the fragment length of the streams returned by Fetch.
	FragmentSize int
}

// Session is one authenticated IMAP connection.
type Session struct {
	opts    Options
	client  *imapclient.Client
	stop    func() bool
	logger  *slog.Logger
	mailbox string
}

// Dial connects, logs in and returns a session. Cancelling ctx closes the
// connection, unblocking any command in flight.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{DebugWriter: opts.DebugWriter}
	if opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		stop()
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	logger.Debug("imap connection established", "address", address, "user", opts.Username, "tls", opts.UseTLS)
	return &Session{opts: opts, client: client, stop: stop, logger: logger}, nil
}

// Select opens a mailbox read-write so messages can be flagged.
func (s *Session) Select(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", name, err)
	}
	s.mailbox = name
	s.logger.Debug("imap mailbox selected", "mailbox", name, "messages", data.NumMessages)
	return nil
}

// Search returns the sequence numbers of unseen messages, restricted to mail
// received on or after since when since is not zero.
func (s *Session) Search(ctx context.Context, since time.Time) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := &imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagSeen},
		Since:   since,
	}
	data, err := s.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.mailbox, err)
	}
	return data.AllSeqNums(), nil
}

// Fetch retrieves flags, header and text of the messages without setting
// \Seen, and frames them as a FETCH response stream.
func (s *Session) Fetch(ctx context.Context, ids []uint32) (fetch.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	options := &imapv2.FetchOptions{
		Flags: true,
		BodySection: []*imapv2.FetchItemBodySection{
			{Specifier: imapv2.PartSpecifierHeader, Peek: true},
			{Specifier: imapv2.PartSpecifierText, Peek: true},
		},
	}
	cmd := s.client.Fetch(imapv2.SeqSetNum(ids...), options)

	b := &fetch.Builder{FragmentSize: s.opts.FragmentSize}
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		if err := frameMessage(b, msg); err != nil {
			_ = cmd.Close()
			return nil, fmt.Errorf("fetch message %d: %w", msg.SeqNum, err)
		}
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.mailbox, err)
	}
	return b.Stream(), nil
}

func frameMessage(b *fetch.Builder, msg *imapclient.FetchMessageData) error {
	var (
		flags        []string
		header, text []byte
	)
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch item := item.(type) {
		case imapclient.FetchItemDataFlags:
			for _, f := range item.Flags {
				flags = append(flags, string(f))
			}
		case imapclient.FetchItemDataBodySection:
			if item.Literal == nil {
				continue
			}
			data, err := io.ReadAll(item.Literal)
			if err != nil {
				return fmt.Errorf("read body section: %w", err)
			}
			switch item.Section.Specifier {
			case imapv2.PartSpecifierHeader:
				header = data
			case imapv2.PartSpecifierText:
				text = data
			}
		}
	}

	b.Message(msg.SeqNum, flags,
		fetch.Section{Name: "BODY[HEADER]", Data: header},
		fetch.Section{Name: "BODY[TEXT]", Data: text},
	)
	return nil
}

// MarkSeen adds the \Seen flag to message id.
func (s *Session) MarkSeen(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store := &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}
	if err := s.client.Store(imapv2.SeqSetNum(id), store, nil).Close(); err != nil {
		return fmt.Errorf("store \\Seen on %d: %w", id, err)
	}
	return nil
}

// Logout ends the session and closes the connection.
func (s *Session) Logout() error {
	s.stop()
	var err error
	if logoutErr := s.client.Logout().Wait(); logoutErr != nil {
		err = fmt.Errorf("imap logout failed: %w", logoutErr)
	}
	if closeErr := s.client.Close(); closeErr != nil {
		s.logger.Debug("imap connection closed", "err", closeErr)
	}
	return err
}
