package imapx

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"github.com/mailchat/mailsync/internal/retry"
)

// fakeSession is an in-memory Session backed by folder-keyed raw messages.
type fakeSession struct {
	mu sync.Mutex

	mailboxes []*imap.MailboxInfo
	folders   map[string]map[uint32][]byte
	badUIDs   map[uint32]bool // delivered without a body section
	selected  string

	loginErr  error
	noopErr   error
	selectErr error
	fetchErr  error
	listErr   error
	fetchErrOnce bool

	loginCalls  int
	noopCalls   int
	selectCalls int
	closeCalls  int
	logoutCalls int
	fetchCalls  int
}

func (s *fakeSession) Login(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++
	return s.loginErr
}

func (s *fakeSession) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutCalls++
	s.selected = ""
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.selected = ""
	return nil
}

func (s *fakeSession) Noop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noopCalls++
	return s.noopErr
}

func (s *fakeSession) Terminate() error { return nil }

func (s *fakeSession) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectCalls++
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	s.selected = name
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(s.folders[name]))}, nil
}

func (s *fakeSession) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	s.mu.Lock()
	boxes := s.mailboxes
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, mb := range boxes {
		ch <- mb
	}
	return nil
}

func (s *fakeSession) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedUIDsLocked(), nil
}

func (s *fakeSession) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	s.mu.Lock()
	s.fetchCalls++
	if s.fetchErr != nil {
		err := s.fetchErr
		if s.fetchErrOnce {
			s.fetchErr = nil
		}
		s.mu.Unlock()
		return err
	}
	msgs := s.folders[s.selected]
	uids := s.sortedUIDsLocked()
	bad := s.badUIDs
	s.mu.Unlock()

	section := &imap.BodySectionName{Peek: true}
	for _, uid := range uids {
		if !seqset.Contains(uid) {
			continue
		}
		msg := &imap.Message{Uid: uid, Body: map[*imap.BodySectionName]imap.Literal{}}
		if !bad[uid] {
			msg.Body[section] = bytes.NewBuffer(msgs[uid])
		}
		ch <- msg
	}
	return nil
}

func (s *fakeSession) sortedUIDsLocked() []uint32 {
	msgs := s.folders[s.selected]
	uids := make([]uint32, 0, len(msgs))
	for uid := range msgs {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

// newTestConn wires a Conn to the fake with single-millisecond retry delays.
func newTestConn(t *testing.T, sess *fakeSession) *Conn {
	t.Helper()
	return NewConn(Options{
		Email:       "user@example.com",
		Password:    "secret",
		Server:      "imap.example.com:993",
		DialTimeout: time.Second,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2.0,
		},
		Dial: func(ctx context.Context, server string, timeout time.Duration) (Session, error) {
			return sess, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}
