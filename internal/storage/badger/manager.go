package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
)

// Manager implements interfaces.StorageManager for Badger, the single
// composition-root handle over every repository.
type Manager struct {
	db           *BadgerDB
	website      interfaces.WebsiteStorage
	job          interfaces.JobStorage
	scheduledJob interfaces.ScheduledJobStorage
	page         interfaces.PageStorage
	contentHash  interfaces.ContentHashStorage
	log          interfaces.LogStorage
	retryHistory interfaces.RetryHistoryStorage
	deadLetter   interfaces.DeadLetterStorage
	kv           interfaces.KeyValueStorage
	queue        interfaces.QueueStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		website:      NewWebsiteStorage(db, logger),
		job:          NewJobStorage(db, logger),
		scheduledJob: NewScheduledJobStorage(db, logger),
		page:         NewPageStorage(db, logger),
		contentHash:  NewContentHashStorage(db, logger),
		log:          NewLogStorage(db, logger),
		retryHistory: NewRetryHistoryStorage(db, logger),
		deadLetter:   NewDeadLetterStorage(db, logger),
		kv:           NewKVStorage(db, logger),
		queue:        NewQueueStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

func (m *Manager) Website() interfaces.WebsiteStorage           { return m.website }
func (m *Manager) Job() interfaces.JobStorage                   { return m.job }
func (m *Manager) ScheduledJob() interfaces.ScheduledJobStorage { return m.scheduledJob }
func (m *Manager) Page() interfaces.PageStorage                 { return m.page }
func (m *Manager) ContentHash() interfaces.ContentHashStorage   { return m.contentHash }
func (m *Manager) Log() interfaces.LogStorage                   { return m.log }
func (m *Manager) RetryHistory() interfaces.RetryHistoryStorage { return m.retryHistory }
func (m *Manager) DeadLetter() interfaces.DeadLetterStorage     { return m.deadLetter }
func (m *Manager) KV() interfaces.KeyValueStorage               { return m.kv }
func (m *Manager) Queue() interfaces.QueueStorage               { return m.queue }

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
