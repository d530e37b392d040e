package querycache

import (
	"encoding/json"
	"slices"
)

// Key identifies a cached query: resource first, then scope, then filters.
type Key []string

// K builds a key from its parts.
func K(parts ...string) Key { return Key(parts) }

// String returns the canonical form used for map lookups.
func (k Key) String() string {
	if k == nil {
		k = Key{}
	}
	b, _ := json.Marshal([]string(k))
	return string(b)
}

// HasPrefix reports whether prefix matches the leading parts of k. The empty
// prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return slices.Equal(k[:len(prefix)], prefix)
}

// Clone returns a copy that does not share the backing array.
func (k Key) Clone() Key { return slices.Clone(k) }

// Resource names, the first part of every key.
const (
	ResGroups            = "groups"
	ResEntities          = "entities"
	ResEntity            = "entity"
	ResRelationships     = "relationships"
	ResEpisodes          = "episodes"
	ResSessions          = "sessions"
	ResProjects          = "projects"
	ResStats             = "stats"
	ResRecentActivity    = "recent-activity"
	ResSearch            = "search"
	ResQueueStatus       = "queue-status"
	ResScheduledTasks    = "scheduled-tasks"
	ResScheduledTask     = "scheduled-task"
	ResTaskHistory       = "task-history"
	ResTaskScratchpad    = "task-scratchpad"
	ResRunningExecutions = "running-executions"
	ResDocuments         = "documents"
	ResDocument          = "document"
	ResDocumentSearch    = "document-search"
	ResHealth            = "health"
)

// GroupScoped lists the resources whose second key part is a group id.
var GroupScoped = []string{
	ResEntities, ResEntity, ResRelationships, ResEpisodes, ResSessions,
	ResProjects, ResStats, ResRecentActivity, ResSearch, ResQueueStatus,
}
