package inmemdb

import (
	"sync"

	"github.com/trezcool/ratiba/core/schedule"
)

type (
	DB struct {
		schedule *scheduleTable
	}

	scheduleTable struct {
		sync.RWMutex
		table map[string]*schedule.Schedule
	}
)

func Open() *DB {
	return &DB{
		schedule: &scheduleTable{table: make(map[string]*schedule.Schedule)},
	}
}
