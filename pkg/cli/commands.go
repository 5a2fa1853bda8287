package cli

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/search"
)

func splitClasses(value string) []string {
	var classes []string
	for _, class := range strings.Split(value, ",") {
		if class = strings.TrimSpace(class); class != "" {
			classes = append(classes, class)
		}
	}
	return classes
}

func reindexFlags() *flag.FlagSet {
	fs := newFlagSet("reindex")
	fs.String("classes", "", "Comma separated entity classes (default: all)")
	fs.String("redis", "", "Publish straight to the queue at this Redis URL instead of calling the API")
	fs.String("prefix", envOr("REINDEXER_QUEUE_PREFIX", "reindexer"), "Queue key prefix, with -redis")
	return fs
}

func newReindexCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "reindex",
		Description: "Request a reindex of some or all entity classes",
		Flags:       reindexFlags(),
	}

	cmd.Run = func(args []string) error {
		fs := reindexFlags()
		if err := fs.Parse(args); err != nil {
			return err
		}
		classes := splitClasses(fs.Lookup("classes").Value.String())
		redisURL := fs.Lookup("redis").Value.String()
		logger := env.Logger.WithField("classes", classes)

		var messageID string
		if redisURL != "" {
			publisher, closeFn, err := env.NewPublisher(redisURL, fs.Lookup("prefix").Value.String())
			if err != nil {
				return err
			}
			defer closeFn() //nolint:errcheck

			if messageID, err = publisher.Send(context.Background(), search.TopicReindex, search.ReindexRequest{Classes: classes}); err != nil {
				return fmt.Errorf("failed to publish reindex request: %w", err)
			}
			logger = logger.WithField("via", "queue")
		} else {
			client := env.NewClient(fs.Lookup("server").Value.String())
			var err error
			if messageID, err = client.Reindex(context.Background(), classes); err != nil {
				return err
			}
			logger = logger.WithField("via", "api")
		}

		logger.WithField("message_id", messageID).Info("Reindex requested")
		fmt.Fprintf(env.Out, "Reindex requested (message %s)\n", messageID)
		return nil
	}
	return cmd
}

func jobIDFlag(fs *flag.FlagSet) int64 {
	return fs.Lookup("job").Value.(flag.Getter).Get().(int64)
}

func statusFlags() *flag.FlagSet {
	fs := newFlagSet("status")
	fs.Int64("job", 0, "Job ID")
	fs.Bool("children", false, "List every child job")
	return fs
}

func newStatusCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "status",
		Description: "Show a job and the state of its children",
		Flags:       statusFlags(),
	}

	cmd.Run = func(args []string) error {
		fs := statusFlags()
		if err := fs.Parse(args); err != nil {
			return err
		}
		id := jobIDFlag(fs)
		if id <= 0 {
			return fmt.Errorf("job is required")
		}

		client := env.NewClient(fs.Lookup("server").Value.String())
		status, err := client.JobStatus(context.Background(), id)
		if err != nil {
			return err
		}
		printStatus(env, status, fs.Lookup("children").Value.String() == "true")
		return nil
	}
	return cmd
}

func printStatus(env *Env, status *job.JobStatus, children bool) {
	j := status.Job
	fmt.Fprintf(env.Out, "Job %d %s: %s", j.ID, j.Name, j.Status)
	if j.Interrupted {
		fmt.Fprint(env.Out, " (interrupted)")
	}
	fmt.Fprintln(env.Out)
	if j.Reason != "" {
		fmt.Fprintf(env.Out, "Reason: %s\n", j.Reason)
	}

	if len(status.Counts) > 0 {
		states := make([]string, 0, len(status.Counts))
		for state := range status.Counts {
			states = append(states, string(state))
		}
		sort.Strings(states)
		parts := make([]string, 0, len(states))
		for _, state := range states {
			parts = append(parts, fmt.Sprintf("%s=%d", state, status.Counts[job.Status(state)]))
		}
		fmt.Fprintf(env.Out, "Children: %s\n", strings.Join(parts, " "))
	}

	if children && len(status.Children) > 0 {
		w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tREASON")
		for _, child := range status.Children {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", child.ID, child.Name, child.Status, child.Reason)
		}
		w.Flush()
	}
}

func interruptFlags() *flag.FlagSet {
	fs := newFlagSet("interrupt")
	fs.Int64("job", 0, "Root job ID")
	return fs
}

func newInterruptCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "interrupt",
		Description: "Cancel the pending work of a root job",
		Flags:       interruptFlags(),
	}

	cmd.Run = func(args []string) error {
		fs := interruptFlags()
		if err := fs.Parse(args); err != nil {
			return err
		}
		id := jobIDFlag(fs)
		if id <= 0 {
			return fmt.Errorf("job is required")
		}

		client := env.NewClient(fs.Lookup("server").Value.String())
		if err := client.Interrupt(context.Background(), id); err != nil {
			return err
		}
		env.Logger.WithField("job_id", id).Info("Job interrupted")
		fmt.Fprintf(env.Out, "Job %d interrupted\n", id)
		return nil
	}
	return cmd
}

func newClassesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "classes",
		Description: "List the indexable entity classes",
		Flags:       newFlagSet("classes"),
	}

	cmd.Run = func(args []string) error {
		fs := newFlagSet("classes")
		if err := fs.Parse(args); err != nil {
			return err
		}
		classes, err := env.NewClient(fs.Lookup("server").Value.String()).Classes(context.Background())
		if err != nil {
			return err
		}
		for _, class := range classes {
			fmt.Fprintln(env.Out, class)
		}
		return nil
	}
	return cmd
}

func searchFlags() *flag.FlagSet {
	fs := newFlagSet("search")
	fs.String("q", "", "Query, e.g. 'lamp class:product color:red'")
	fs.String("class", "", "Restrict to one entity class")
	fs.Int("limit", 20, "Maximum number of hits")
	return fs
}

func newSearchCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "search",
		Description: "Query the search index",
		Flags:       searchFlags(),
	}

	cmd.Run = func(args []string) error {
		fs := searchFlags()
		if err := fs.Parse(args); err != nil {
			return err
		}
		limit := fs.Lookup("limit").Value.(flag.Getter).Get().(int)

		client := env.NewClient(fs.Lookup("server").Value.String())
		hits, err := client.Search(context.Background(),
			fs.Lookup("class").Value.String(),
			fs.Lookup("q").Value.String(),
			limit)
		if err != nil {
			return err
		}
		env.Logger.WithFields(logrus.Fields{"hits": len(hits)}).Debug("Search finished")

		w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE\tCONTENT")
		for _, hit := range hits {
			fmt.Fprintf(w, "%s\t%.3f\t%s\n", hit.ID, hit.Score, hit.Content)
		}
		return w.Flush()
	}
	return cmd
}
