package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nextlevelbuilder/graphiti-browser/internal/api"
	"github.com/nextlevelbuilder/graphiti-browser/internal/querycache"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// cached reads key through the query cache and asserts the result type.
func cached[T any](ctx context.Context, c *querycache.Cache, key querycache.Key, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) { return fetch(ctx) })
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T", key, v)
	}
	return out, nil
}

// --- Reads ---

func (a *App) ListTasks(ctx context.Context) ([]api.Task, error) {
	return cached(ctx, a.Cache, querycache.K(querycache.ResScheduledTasks), a.Xerro.ListTasks)
}

func (a *App) Task(ctx context.Context, id string) (*api.Task, error) {
	return cached(ctx, a.Cache, querycache.K(querycache.ResScheduledTask, id), func(ctx context.Context) (*api.Task, error) {
		return a.Xerro.GetTask(ctx, id)
	})
}

func (a *App) RunningExecutions(ctx context.Context) ([]api.Execution, error) {
	return cached(ctx, a.Cache, querycache.K(querycache.ResRunningExecutions), a.Xerro.RunningExecutions)
}

func (a *App) TaskHistory(ctx context.Context, id string, limit int) ([]api.Execution, error) {
	key := querycache.K(querycache.ResTaskHistory, id, strconv.Itoa(limit))
	return cached(ctx, a.Cache, key, func(ctx context.Context) ([]api.Execution, error) {
		return a.Xerro.TaskHistory(ctx, id, limit)
	})
}

func (a *App) Episodes(ctx context.Context, lastN int) ([]api.Episode, error) {
	g := a.Config.GroupID
	key := querycache.K(querycache.ResEpisodes, g, strconv.Itoa(lastN))
	return cached(ctx, a.Cache, key, func(ctx context.Context) ([]api.Episode, error) {
		return a.Graphiti.ListEpisodes(ctx, g, lastN)
	})
}

func (a *App) QueueStatus(ctx context.Context) (*api.QueueStatus, error) {
	g := a.Config.GroupID
	return cached(ctx, a.Cache, querycache.K(querycache.ResQueueStatus, g), func(ctx context.Context) (*api.QueueStatus, error) {
		return a.Graphiti.QueueStatus(ctx, g)
	})
}

// Document reads one vault document and remembers it as the last opened.
func (a *App) Document(ctx context.Context, path string) (*api.Document, error) {
	doc, err := cached(ctx, a.Cache, querycache.K(querycache.ResDocument, path), func(ctx context.Context) (*api.Document, error) {
		return a.Xerro.GetDocument(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	a.Prefs.SetLastDocument(ctx, path)
	return doc, nil
}

// --- Mutations ---
//
// Each mutation invalidates the keys its push event would, right after the
// request succeeds. The push event arriving later invalidates again, which
// is harmless.

func (a *App) CreateTask(ctx context.Context, in api.TaskInput) (*api.Task, error) {
	t, err := a.Xerro.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	a.Router.Local(protocol.NewTaskChanged(protocol.EventTaskCreated, t.ID))
	return t, nil
}

func (a *App) UpdateTask(ctx context.Context, id string, in api.TaskInput) (*api.Task, error) {
	t, err := a.Xerro.UpdateTask(ctx, id, in)
	if err != nil {
		return nil, err
	}
	a.Router.Local(protocol.NewTaskChanged(protocol.EventTaskUpdated, id))
	return t, nil
}

func (a *App) DeleteTask(ctx context.Context, id string) error {
	if err := a.Xerro.DeleteTask(ctx, id); err != nil {
		return err
	}
	a.Router.Local(protocol.NewTaskChanged(protocol.EventTaskDeleted, id))
	return nil
}

func (a *App) RunTask(ctx context.Context, id string) (*api.Execution, error) {
	exec, err := a.Xerro.RunTask(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Router.Local(protocol.AgentStatus{ExecutionID: exec.ID, TaskID: id, Status: protocol.StatusPending})
	return exec, nil
}

func (a *App) DeleteEpisode(ctx context.Context, uuid string) error {
	if err := a.Graphiti.DeleteEpisode(ctx, uuid); err != nil {
		return err
	}
	a.Router.Local(protocol.EpisodeDeleted{Meta: protocol.Meta{GroupID: a.Config.GroupID}, UUID: uuid})
	return nil
}

func (a *App) DeleteEntity(ctx context.Context, uuid string) error {
	if err := a.Graphiti.DeleteEntity(ctx, uuid); err != nil {
		return err
	}
	a.Router.Local(protocol.EntityDeleted{Meta: protocol.Meta{GroupID: a.Config.GroupID}, UUID: uuid})
	return nil
}
