// pointctl is a command line client for the point store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vjranagit/pointstore/pkg/client"
	"github.com/vjranagit/pointstore/pkg/types"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pointctl:", err)
		os.Exit(1)
	}
}

// run executes the command line given by args, writing results to out.
func run(args []string, out io.Writer) error {
	root := getRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(context.Background())
}

// rootEnv holds the flags shared by every command.
type rootEnv struct {
	addr    string
	timeout time.Duration
}

// getRootCmd returns the pointctl command tree.
func getRootCmd() *cobra.Command {
	env := &rootEnv{}
	cmd := &cobra.Command{
		Use:           "pointctl",
		Short:         "Store and query time series points",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return errors.New("missing command")
		},
	}

	cmd.PersistentFlags().StringVar(&env.addr, "addr", envOr("POINTSTORE_ADDR", "127.0.0.1:7070"), "server address")
	cmd.PersistentFlags().DurationVar(&env.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(getPutCmd(env), getGetCmd(env), getUUIDCmd())
	return cmd
}

func (r *rootEnv) dial(ctx context.Context) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return client.Dial(ctx, r.addr, r.timeout)
}

func getUUIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uuid",
		Short: "Print a new random stream id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), uuid.NewString())
			return nil
		},
	}
}

// putEnv provides the environment for the put command.
type putEnv struct {
	root *rootEnv
	uuid string
}

// getPutCmd returns the definition of the put command.
func getPutCmd(root *rootEnv) *cobra.Command {
	env := &putEnv{root: root}
	cmd := &cobra.Command{
		Use:   "put --uuid ID TIME=VALUE...",
		Short: "Store records",
		Long: `
Stores one or more records of a stream. Each record is given as
TIME=VALUE, TIME being seconds since the epoch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: env.runPutCmd,
	}

	cmd.Flags().StringVar(&env.uuid, "uuid", "", "stream id")
	must(cmd.MarkFlagRequired("uuid"))
	return cmd
}

func (p *putEnv) runPutCmd(cmd *cobra.Command, args []string) error {
	if err := types.ValidateStreamID(p.uuid); err != nil {
		return err
	}
	records, err := parseRecords(args)
	if err != nil {
		return err
	}

	c, err := p.root.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Put(p.uuid, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d records\n", n)
	return nil
}

// getEnv provides the environment for the get command.
type getEnv struct {
	root   *rootEnv
	uuid   string
	start  uint32
	end    uint32
	asJSON bool
}

// getGetCmd returns the definition of the get command.
func getGetCmd(root *rootEnv) *cobra.Command {
	env := &getEnv{root: root}
	cmd := &cobra.Command{
		Use:   "get --uuid ID [--start T] [--end T]",
		Short: "Print the records of a stream in [start, end]",
		Args:  cobra.NoArgs,
		RunE:  env.runGetCmd,
	}

	cmd.Flags().StringVar(&env.uuid, "uuid", "", "stream id")
	cmd.Flags().Uint32Var(&env.start, "start", 0, "range start, seconds since the epoch")
	cmd.Flags().Uint32Var(&env.end, "end", uint32(time.Now().Unix()), "range end, seconds since the epoch")
	cmd.Flags().BoolVar(&env.asJSON, "json", false, "print JSON instead of a table")
	must(cmd.MarkFlagRequired("uuid"))
	return cmd
}

func (g *getEnv) runGetCmd(cmd *cobra.Command, _ []string) error {
	if err := types.ValidateStreamID(g.uuid); err != nil {
		return err
	}

	c, err := g.root.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	records, err := c.Get(g.uuid, types.TimeRange{Start: g.start, End: g.end})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if g.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	printRecords(out, records)
	return nil
}

func printRecords(out io.Writer, records []types.Record) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Time", "UTC", "Value"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, rec := range records {
		table.Append([]string{
			strconv.FormatUint(uint64(rec.Time), 10),
			time.Unix(int64(rec.Time), 0).UTC().Format(time.RFC3339),
			strconv.FormatFloat(float64(rec.Value), 'g', -1, 32),
		})
	}
	table.SetFooter([]string{"", "records", strconv.Itoa(len(records))})
	table.Render()
}

// parseRecords reads TIME=VALUE arguments.
func parseRecords(args []string) ([]types.Record, error) {
	if len(args) == 0 {
		return nil, errors.New("no records given")
	}
	records := make([]types.Record, 0, len(args))
	for _, arg := range args {
		t, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("record %q: want TIME=VALUE", arg)
		}
		secs, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", arg, err)
		}
		value, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", arg, err)
		}
		records = append(records, types.Record{Time: uint32(secs), Value: float32(value)})
	}
	return records, nil
}

// must panics on errors that can only come from a broken command definition.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
