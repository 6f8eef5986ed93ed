package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// recordView is one record as printed by the CLI.
type recordView struct {
	Kind    string        `json:"kind"`
	ID      string        `json:"id"`
	Payload record.Object `json:"payload"`
}

func newRecordView(rec record.Record) recordView {
	payload := rec.Payload
	if payload == nil {
		payload = record.Object{}
	}
	return recordView{Kind: rec.Kind, ID: rec.ID, Payload: payload}
}

func (r recordView) String() string {
	text, err := record.EncodePayload(r.Payload)
	if err != nil {
		text = "<unencodable>"
	}
	return r.Kind + " " + r.ID + " " + text
}

type recordList []recordView

func newRecordList(recs []record.Record) recordList {
	out := make(recordList, len(recs))
	for i, r := range recs {
		out[i] = newRecordView(r)
	}
	return out
}

func (l recordList) String() string {
	if len(l) == 0 {
		return "no records"
	}
	lines := make([]string, len(l))
	for i, r := range l {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}

// keyResult reports a write by key.
type keyResult struct {
	Action string `json:"action"`
	Kind   string `json:"kind"`
	ID     string `json:"id"`
}

func (k keyResult) String() string {
	return k.Action + " " + k.Kind + " " + k.ID
}

// QueryOptions holds the flags shared by list and search.
type QueryOptions struct {
	*RootOptions
	Where []string
	Limit int
}

func (q *QueryOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&q.Where, "where", "w", nil, "field=value filter (repeatable)")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, fmt.Sprintf("maximum results (default %d)", backend.DefaultListLimit))
}

func (q *QueryOptions) where() (map[string]string, error) {
	if len(q.Where) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(q.Where))
	for _, w := range q.Where {
		field, value, ok := strings.Cut(w, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --where %q: want field=value", w)
		}
		out[field] = value
	}
	return out, nil
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <kind> <id> <payload-json>",
		Short: "Create or replace a record",
		Long: `Create a record, or replace its payload if it already exists.

Payloads are JSON objects; numbers must be integers.

Example:
  hybridstore put incident I1 '{"sev":"high","title":"SSH brute force"}'`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(rootOpts, args[0], args[1], args[2], cmd)
		},
	}

	return cmd
}

func runPut(opts *RootOptions, kind, id, payloadJSON string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	v, err := record.Unmarshal([]byte(payloadJSON))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, fmt.Errorf("invalid payload: %w", err))
	}
	payload, ok := v.(record.Object)
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeInvalid, fmt.Errorf("invalid payload: want a JSON object"))
	}

	c, err := opts.open(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	rec := record.New(kind, id, payload)
	action := "created"
	if _, err = c.Create(ctx, rec); backend.CodeOf(err) == backend.CodeDuplicate {
		action = "updated"
		err = c.Update(ctx, rec)
	}
	if err != nil {
		return f.failStore(err)
	}
	return f.Success(keyResult{Action: action, Kind: kind, ID: id})
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "get <kind> <id>",
		Short:         "Read a record through the cache",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runGet(opts *RootOptions, kind, id string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	c, err := opts.open(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	rec, err := c.Get(ctx, kind, id)
	if err == nil && rec == nil {
		err = backend.NotFound("get", kind, id)
	}
	if err != nil {
		return f.failStore(err)
	}
	return f.Success(newRecordView(*rec))
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "delete <kind> <id>",
		Short:         "Delete a record and invalidate its cache and index entries",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runDelete(opts *RootOptions, kind, id string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	c, err := opts.open(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if err := c.Delete(ctx, kind, id); err != nil {
		return f.failStore(err)
	}
	return f.Success(keyResult{Action: "deleted", Kind: kind, ID: id})
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List records of a kind from the record store",
		Long: `List records of a kind, ordered by id, straight from the record store.

Example:
  hybridstore list alert --where status=active --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runList(opts *QueryOptions, kind string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	where, err := opts.where()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, err)
	}

	c, err := opts.open(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	recs, err := c.List(ctx, kind, backend.Filter{Where: where, Limit: opts.Limit})
	if err != nil {
		return f.failStore(err)
	}
	return f.Success(newRecordList(recs))
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <kind> <text>",
		Short: "Free-text search through the search role",
		Long: `Search records of a kind. Uses the search backend and falls back to
scanning the record store when it is unavailable.

Example:
  hybridstore search incident "brute force" --where sev=high`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0], args[1], cmd)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runSearch(opts *QueryOptions, kind, text string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	where, err := opts.where()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, err)
	}

	c, err := opts.open(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	recs, err := c.Search(ctx, kind, backend.Criteria{Text: text, Where: where, Limit: opts.Limit})
	if err != nil {
		return f.failStore(err)
	}
	return f.Success(newRecordList(recs))
}
