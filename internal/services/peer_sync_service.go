package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// ReplicationPage is the body served to peers pulling a store.
type ReplicationPage struct {
	Peer    string               `json:"peer"`
	Store   string               `json:"store"`
	Entries []models.LedgerEntry `json:"entries"`
	Next    uint                 `json:"next"`
}

// PeerLedger is what peer sync needs from the local ledger.
type PeerLedger interface {
	Ingest(ctx context.Context, source string, entries []models.LedgerEntry) (int, error)
	Cursor(ctx context.Context, peer, store string) (uint, error)
	SetCursor(ctx context.Context, peer, store string, seq uint) error
}

// PeerSyncService pulls new ledger entries from every configured peer on a
// schedule.
type PeerSyncService struct {
	Cron     *cron.Cron
	peers    []string
	docs     PeerLedger
	client   *http.Client
	pageSize int

	// running keeps scheduled pulls from overlapping.
	running sync.Mutex
}

func NewPeerSyncService(docs PeerLedger, peers []string, schedule string, timeout time.Duration) *PeerSyncService {
	s := &PeerSyncService{
		Cron:     cron.New(),
		peers:    peers,
		docs:     docs,
		client:   &http.Client{Timeout: timeout},
		pageSize: 500,
	}
	if len(peers) > 0 && schedule != "" {
		_, err := s.Cron.AddFunc(schedule, func() {
			if !s.running.TryLock() {
				return
			}
			defer s.running.Unlock()
			s.SyncAll(context.Background())
		})
		if err != nil {
			logger.Log().WithError(err).WithField("schedule", schedule).Error("Failed to schedule peer sync")
		}
	}
	return s
}

func (s *PeerSyncService) Start() { s.Cron.Start() }

func (s *PeerSyncService) Stop() { <-s.Cron.Stop().Done() }

// SyncAll pulls every store from every peer. Failures are logged per peer
// and do not stop the others.
func (s *PeerSyncService) SyncAll(ctx context.Context) int {
	total := 0
	for _, peer := range s.peers {
		for _, store := range ledger.Stores {
			n, err := s.SyncStore(ctx, peer, store)
			total += n
			if err != nil {
				logger.WithFields(map[string]interface{}{"peer": peer, "store": store}).WithError(err).Warn("Peer sync failed")
				break
			}
		}
	}
	return total
}

// SyncStore pulls one store from peer until it is caught up and returns the
// number of new entries ingested.
func (s *PeerSyncService) SyncStore(ctx context.Context, peer, store string) (int, error) {
	after, err := s.docs.Cursor(ctx, peer, store)
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		page, err := s.fetch(ctx, peer, store, after)
		if err != nil {
			return total, err
		}
		if len(page.Entries) == 0 {
			return total, nil
		}
		n, err := s.docs.Ingest(ctx, peer, page.Entries)
		total += n
		if err != nil {
			return total, err
		}
		metrics.AddPeerEntries(store, n)

		next := page.Next
		for _, e := range page.Entries {
			if e.Seq > next {
				next = e.Seq
			}
		}
		if next <= after {
			return total, fmt.Errorf("peer %s did not advance past %d", peer, after)
		}
		if err := s.docs.SetCursor(ctx, peer, store, next); err != nil {
			return total, err
		}
		after = next
		if len(page.Entries) < s.pageSize {
			return total, nil
		}
	}
}

func (s *PeerSyncService) fetch(ctx context.Context, peer, store string, after uint) (*ReplicationPage, error) {
	u, err := url.Parse(peer + "/api/v1/replication/" + url.PathEscape(store))
	if err != nil {
		return nil, fmt.Errorf("peer url: %w", err)
	}
	q := u.Query()
	q.Set("after", strconv.FormatUint(uint64(after), 10))
	q.Set("limit", strconv.Itoa(s.pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("peer %s returned %d: %s", peer, resp.StatusCode, body)
	}
	var page ReplicationPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode replication page: %w", err)
	}
	return &page, nil
}
