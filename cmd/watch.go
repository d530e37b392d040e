package cmd

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/graphiti-browser/internal/eventfilter"
	"github.com/nextlevelbuilder/graphiti-browser/internal/transport"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

func watchCmd() *cobra.Command {
	var filterExpr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream pushed events while keeping the cache in sync",
		Long: `Connect to the event channels and print every event as it arrives.

Examples:
  graphiti-browser watch
  graphiti-browser watch --filter 'type == "entity_created"'
  graphiti-browser watch --filter 'type.startsWith("scheduled-tasks:") && data.status == "error"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *eventfilter.Filter
			if filterExpr != "" {
				f, err := eventfilter.Compile(filterExpr)
				if err != nil {
					return err
				}
				filter = f
			}
			return runWatch(filter)
		},
	}
	cmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "CEL expression over type, group and data")
	return cmd
}

func runWatch(filter *eventfilter.Filter) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Graph == nil && a.Tasks == nil {
		return fail("no websocket url configured (graphiti.ws_url / xerro.ws_url)")
	}

	tag := color.New(color.FgCyan).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	cancelSub := a.Subscribe(func(source string, evt protocol.Event) {
		if !filter.Match(evt) {
			return
		}
		fmt.Printf("%s %s %s\n", dim(source), tag(evt.Type()), describeEvent(evt))
	})
	defer cancelSub()

	for _, t := range []*transport.Transport{a.Graph, a.Tasks} {
		if t == nil {
			continue
		}
		name := t.Name()
		t.OnStateChange(func(s transport.State) {
			slog.Info("watch: connection", "transport", name, "state", s)
		})
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func describeEvent(evt protocol.Event) string {
	group := evt.Group()
	if group == "" {
		group = "-"
	}
	switch e := evt.(type) {
	case protocol.EntityCreated:
		return fmt.Sprintf("group=%s uuid=%s name=%q", group, e.UUID, truncate(e.Name, 40))
	case protocol.EntityDeleted:
		return fmt.Sprintf("group=%s uuid=%s", group, e.UUID)
	case protocol.EdgeCreated:
		return fmt.Sprintf("group=%s uuid=%s %s -> %s %s", group, e.UUID, shortID(e.SourceUUID), shortID(e.TargetUUID), truncate(e.Fact, 60))
	case protocol.EdgeDeleted:
		return fmt.Sprintf("group=%s uuid=%s", group, e.UUID)
	case protocol.EpisodeCreated:
		return fmt.Sprintf("group=%s uuid=%s name=%q", group, e.UUID, truncate(e.Name, 40))
	case protocol.EpisodeDeleted:
		return fmt.Sprintf("group=%s uuid=%s", group, e.UUID)
	case protocol.GroupDeleted:
		return fmt.Sprintf("group=%s episodes=%d entities=%d edges=%d", group, e.Episodes, e.Entities, e.Edges)
	case protocol.SessionDeleted:
		return fmt.Sprintf("group=%s session=%s episodes=%d", group, e.SessionID, e.Episodes)
	case protocol.ProjectDeleted:
		return fmt.Sprintf("group=%s project=%s episodes=%d", group, e.ProjectName, e.Episodes)
	case protocol.QueueStatus:
		return fmt.Sprintf("group=%s pending=%d processing=%d", group, e.Pending, e.Processing)
	case protocol.AgentStatus:
		s := fmt.Sprintf("task=%s exec=%s status=%s", e.TaskID, shortID(e.ExecutionID), e.Status)
		if e.ToolName != "" {
			s += " tool=" + e.ToolName
		}
		if e.Error != "" {
			s += " error=" + truncate(e.Error, 60)
		}
		return s
	case protocol.TaskChanged:
		return fmt.Sprintf("task=%s %s", e.TaskID, e.Name)
	case protocol.DocumentChanged:
		return fmt.Sprintf("path=%s", e.Path)
	}
	return ""
}
