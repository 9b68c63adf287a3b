package lifecycle

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/database"
	"github.com/ThiagoRGoveia/spend-analytics/internal/ingestion"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
)

type State string

const (
	StateUpload    State = "upload"
	StateDashboard State = "dashboard"
)

type EventKind string

const (
	EventReloaded EventKind = "reloaded"
	EventPurged   EventKind = "purged"
)

// Event tells dependent views that the data behind them changed and they must re-query.
type Event struct {
	Kind    EventKind `json:"kind"`
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}

type Status struct {
	State       State            `json:"state"`
	Version     uint64           `json:"version"`
	EngineReady bool             `json:"engineReady"`
	Metadata    *models.Metadata `json:"metadata,omitempty"`
}

// EngineLoader rebuilds and releases the analytical engine.
type EngineLoader interface {
	Initialize(ctx context.Context) error
	Close() error
	Ready() bool
}

var errNoRows = errors.New("no rows found in the uploaded files")

const subscriberBuffer = 8

// Orchestrator sequences ingestion, storage and engine rebuilds. One operation runs at a time;
// a second one started meanwhile fails with models.ErrBusy.
type Orchestrator struct {
	ingestor ingestion.Ingestor
	store    database.RowStore
	loader   EngineLoader

	opMu    sync.Mutex
	mu      sync.RWMutex
	state   State
	version uint64

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewOrchestrator(ingestor ingestion.Ingestor, store database.RowStore, loader EngineLoader) *Orchestrator {
	return &Orchestrator{
		ingestor: ingestor,
		store:    store,
		loader:   loader,
		state:    StateUpload,
		subs:     make(map[int]chan Event),
	}
}

func (o *Orchestrator) begin() error {
	if !o.opMu.TryLock() {
		return models.ErrBusy
	}
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start picks the initial state from stored metadata and, for a populated store, loads the
// engine. On an engine failure the state is still the dashboard and Refresh retries.
func (o *Orchestrator) Start(ctx context.Context) (State, error) {
	if err := o.begin(); err != nil {
		return "", err
	}
	defer o.opMu.Unlock()

	meta, err := o.store.GetMetadata(ctx)
	if err != nil {
		return "", err
	}
	if meta == nil || meta.RowCount == 0 {
		o.setState(StateUpload)
		log.Println("No stored dataset found, waiting for an upload.")
		return StateUpload, nil
	}

	log.Printf("Found stored dataset with %d rows (updated %s)", meta.RowCount, meta.LastUpdated.Format(time.RFC3339))
	o.setState(StateDashboard)
	return StateDashboard, o.reload(ctx)
}

// Analyze ingests the first upload set, persists it and loads the engine.
func (o *Orchestrator) Analyze(ctx context.Context, uploads []ingestion.Upload) (*models.Metadata, error) {
	return o.replaceDataset(ctx, "analyze", uploads)
}

// Update replaces the whole dataset with a new upload set. Rows are never merged.
func (o *Orchestrator) Update(ctx context.Context, uploads []ingestion.Upload) (*models.Metadata, error) {
	return o.replaceDataset(ctx, "update", uploads)
}

func (o *Orchestrator) replaceDataset(ctx context.Context, op string, uploads []ingestion.Upload) (*models.Metadata, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.opMu.Unlock()

	start := time.Now()
	batch, err := o.ingestor.Ingest(ctx, uploads)
	if err != nil {
		log.Printf("Error ingesting files for %s: %v", op, err)
		return nil, err
	}
	if len(batch.Records) == 0 {
		return nil, &models.IngestionError{File: "upload set", Err: errNoRows}
	}

	meta, err := o.store.ReplaceAll(ctx, batch.Records, batch.Sources, batch.Fingerprint)
	if err != nil {
		log.Printf("Error persisting dataset for %s: %v", op, err)
		return nil, err
	}

	o.setState(StateDashboard)
	if err := o.reload(ctx); err != nil {
		return meta, err
	}

	log.Printf("Finished %s of %d rows from %d files in %v", op, meta.RowCount, len(batch.Sources), time.Since(start))
	return meta, nil
}

// Purge releases the engine and deletes the stored dataset.
func (o *Orchestrator) Purge(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.opMu.Unlock()

	if err := o.loader.Close(); err != nil {
		log.Printf("WARN: error closing engine during purge: %v", err)
	}
	if err := o.store.Clear(ctx); err != nil {
		return err
	}

	o.setState(StateUpload)
	o.publish(EventPurged)
	log.Println("Dataset purged.")
	return nil
}

// Refresh rebuilds the engine from the stored rows without re-reading any file.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.opMu.Unlock()

	return o.reload(ctx)
}

func (o *Orchestrator) reload(ctx context.Context) error {
	if err := o.loader.Initialize(ctx); err != nil {
		return err
	}
	o.publish(EventReloaded)
	return nil
}

func (o *Orchestrator) publish(kind EventKind) {
	o.mu.Lock()
	if kind == EventReloaded {
		o.version++
	}
	event := Event{Kind: kind, Version: o.version, At: time.Now().UTC()}
	o.mu.Unlock()

	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for id, ch := range o.subs {
		select {
		case ch <- event:
		default:
			log.Printf("WARN: subscriber %d is not keeping up, dropped %s event", id, kind)
		}
	}
}

// Subscribe returns a channel of dataset events. Events are dropped for a subscriber whose
// buffer is full. cancel closes the channel.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan Event, subscriberBuffer)
	o.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.subsMu.Lock()
			delete(o.subs, id)
			o.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (o *Orchestrator) Version() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.version
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	meta, err := o.store.GetMetadata(ctx)
	if err != nil {
		return Status{}, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{
		State:       o.state,
		Version:     o.version,
		EngineReady: o.loader.Ready(),
		Metadata:    meta,
	}, nil
}

// Close releases the engine. The store is owned by the caller.
func (o *Orchestrator) Close() error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return o.loader.Close()
}
