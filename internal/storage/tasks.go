package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hakim/waverly/internal/models"
	"go.etcd.io/bbolt"
)

// Bucket layout: bucketTasks maps a task id to its JSON-encoded record;
// bucketTaskIndex maps a task name to the JSON-encoded list of ids archived
// under that name.
const (
	bucketTasks     = "tasks"
	bucketTaskIndex = "task_index"
)

var buckets = []string{bucketTasks, bucketTaskIndex}

// Store archives finished task records in a bbolt database.
type Store struct {
	db *bbolt.DB
}

// NewStore opens (creating if necessary) the task archive at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening task archive: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing task archive: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTask persists the record of a finished task, findings included
func (s *Store) SaveTask(record *models.TaskRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}

		tasks := tx.Bucket([]byte(bucketTasks))
		if err := tasks.Put([]byte(record.ID), data); err != nil {
			return err
		}

		// Update task index (name -> []task_id mapping)
		index := tx.Bucket([]byte(bucketTaskIndex))
		nameKey := []byte(record.Name)

		var taskIDs []string
		if existing := index.Get(nameKey); existing != nil {
			if err := json.Unmarshal(existing, &taskIDs); err != nil {
				return err
			}
		}

		found := false
		for _, id := range taskIDs {
			if id == record.ID {
				found = true
				break
			}
		}
		if !found {
			taskIDs = append(taskIDs, record.ID)
		}

		indexData, err := json.Marshal(taskIDs)
		if err != nil {
			return err
		}
		return index.Put(nameKey, indexData)
	})
}

// GetTask retrieves an archived task record by ID
func (s *Store) GetTask(id string) (*models.TaskRecord, error) {
	var record *models.TaskRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		data := tasks.Get([]byte(id))
		if data == nil {
			return nil // Not found
		}

		record = &models.TaskRecord{}
		return json.Unmarshal(data, record)
	})

	return record, err
}

// ListTasks retrieves all archived records for a task name, newest first
func (s *Store) ListTasks(name string) ([]*models.TaskRecord, error) {
	var records []*models.TaskRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(bucketTaskIndex))
		data := index.Get([]byte(name))
		if data == nil {
			return nil // No archived tasks under this name
		}

		var taskIDs []string
		if err := json.Unmarshal(data, &taskIDs); err != nil {
			return err
		}

		tasksBucket := tx.Bucket([]byte(bucketTasks))
		for _, id := range taskIDs {
			taskData := tasksBucket.Get([]byte(id))
			if taskData != nil {
				var record models.TaskRecord
				if err := json.Unmarshal(taskData, &record); err != nil {
					return err
				}
				records = append(records, &record)
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	sortNewestFirst(records)
	return records, nil
}

// ListAllTasks retrieves every archived task record, newest first
func (s *Store) ListAllTasks() ([]*models.TaskRecord, error) {
	var records []*models.TaskRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		return tasks.ForEach(func(_, v []byte) error {
			var record models.TaskRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	sortNewestFirst(records)
	return records, nil
}

func sortNewestFirst(records []*models.TaskRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
