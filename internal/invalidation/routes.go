package invalidation

import (
	"log/slog"

	"github.com/nextlevelbuilder/graphiti-browser/internal/querycache"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// scoped builds a group-scoped key prefix. An event without a group id
// invalidates the resource across all groups.
func scoped(res, groupID string, rest ...string) querycache.Key {
	if groupID == "" {
		return querycache.K(res)
	}
	return append(querycache.K(res, groupID), rest...)
}

// Routes returns the key prefixes affected by evt. The table is static:
// every event tag maps to a fixed set of resources, parameterized only by
// the group, task or document the event names.
func Routes(evt protocol.Event) []querycache.Key {
	g := evt.Group()

	switch e := evt.(type) {
	case protocol.EntityCreated, protocol.EntityDeleted:
		return []querycache.Key{
			scoped(querycache.ResEntities, g),
			scoped(querycache.ResEntity, g),
			scoped(querycache.ResRelationships, g),
			scoped(querycache.ResRecentActivity, g),
			scoped(querycache.ResStats, g),
			scoped(querycache.ResSearch, g),
		}

	case protocol.EdgeCreated, protocol.EdgeDeleted:
		return []querycache.Key{
			scoped(querycache.ResRelationships, g),
			scoped(querycache.ResEntity, g),
			scoped(querycache.ResRecentActivity, g),
			scoped(querycache.ResStats, g),
			scoped(querycache.ResSearch, g),
		}

	case protocol.EpisodeCreated, protocol.EpisodeDeleted:
		return []querycache.Key{
			scoped(querycache.ResEpisodes, g),
			scoped(querycache.ResSessions, g),
			scoped(querycache.ResRecentActivity, g),
			scoped(querycache.ResStats, g),
			scoped(querycache.ResSearch, g),
		}

	case protocol.GroupDeleted:
		keys := make([]querycache.Key, 0, len(querycache.GroupScoped)+1)
		for _, res := range querycache.GroupScoped {
			keys = append(keys, scoped(res, g))
		}
		return append(keys, querycache.K(querycache.ResGroups))

	case protocol.SessionDeleted:
		return []querycache.Key{
			scoped(querycache.ResSessions, g),
			scoped(querycache.ResProjects, g),
			scoped(querycache.ResEpisodes, g),
			scoped(querycache.ResStats, g),
			scoped(querycache.ResRecentActivity, g),
		}

	case protocol.ProjectDeleted:
		return []querycache.Key{
			scoped(querycache.ResProjects, g),
			scoped(querycache.ResSessions, g),
			scoped(querycache.ResEpisodes, g),
			scoped(querycache.ResStats, g),
		}

	case protocol.QueueStatus:
		return []querycache.Key{scoped(querycache.ResQueueStatus, g)}

	case protocol.AgentStatus:
		keys := []querycache.Key{
			querycache.K(querycache.ResScheduledTask, e.TaskID),
			querycache.K(querycache.ResTaskHistory, e.TaskID),
			querycache.K(querycache.ResRunningExecutions),
		}
		if e.Status.IsTerminal() {
			keys = append(keys,
				querycache.K(querycache.ResScheduledTasks),
				querycache.K(querycache.ResTaskScratchpad, e.TaskID),
			)
		}
		return keys

	case protocol.TaskChanged:
		keys := []querycache.Key{querycache.K(querycache.ResScheduledTasks)}
		switch e.Type() {
		case protocol.EventTaskUpdated:
			keys = append(keys, querycache.K(querycache.ResScheduledTask, e.TaskID))
		case protocol.EventTaskDeleted:
			keys = append(keys,
				querycache.K(querycache.ResScheduledTask, e.TaskID),
				querycache.K(querycache.ResTaskHistory, e.TaskID),
				querycache.K(querycache.ResTaskScratchpad, e.TaskID),
				querycache.K(querycache.ResRunningExecutions),
			)
		}
		return keys

	case protocol.DocumentChanged:
		return []querycache.Key{
			querycache.K(querycache.ResDocuments),
			querycache.K(querycache.ResDocumentSearch),
			querycache.K(querycache.ResDocument, e.Path),
		}
	}

	slog.Warn("invalidation: no route for event", "type", evt.Type())
	return nil
}
