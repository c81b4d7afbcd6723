package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"gearboxd/internal/codec"
	"gearboxd/internal/datastore"
	"gearboxd/internal/gearbox"
	"gearboxd/internal/handler"
	"gearboxd/internal/service"
	"gearboxd/internal/transport/natsrpc"
)

// remote is a running gearboxd reached over HTTP or NATS
type remote interface {
	Commit(ctx context.Context, changes []datastore.Change) (*service.CommitResult, error)
	Query(ctx context.Context, path string) (*gearbox.Document, error)
	Resync(ctx context.Context) error
}

type clientOptions struct {
	server  string
	natsURL string
	timeout time.Duration
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.server, "server", "http://127.0.0.1:8080", "gearboxd HTTP address")
	cmd.Flags().StringVar(&o.natsURL, "nats", "", "use NATS request/reply at this URL instead of HTTP")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
}

// dial returns the remote and a function releasing it
func (o *clientOptions) dial() (remote, func(), error) {
	if o.natsURL == "" {
		return &httpRemote{base: strings.TrimRight(o.server, "/"), client: &http.Client{Timeout: o.timeout}}, func() {}, nil
	}
	nc, err := nats.Connect(o.natsURL, nats.Name("gearboxd-cli"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS %s: %w", o.natsURL, err)
	}
	return natsrpc.NewClient(nc, natsrpc.DefaultSubjects()), nc.Close, nil
}

func newQueryCmd() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   "query [path]",
		Short: "Print operational state for the modules a path selects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := gearbox.Root
			if len(args) == 1 {
				path = args[0]
			}
			r, done, err := opts.dial()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			doc, err := r.Query(ctx, path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	opts.register(cmd)
	return cmd
}

func newCommitCmd() *cobra.Command {
	var (
		opts clientOptions
		file string
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a batch of changes read from a JSON or YAML file",
		Long: `Commit reads {"changes":[{"path":...,"kind":"created|modified|deleted","value":...}]}
from --file, or JSON from stdin when the file is "-". Files ending in .yaml
or .yml are read as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			changes, err := codec.ForPath(file).DecodeChanges(in)
			if err != nil {
				return err
			}

			r, done, err := opts.dial()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			res, err := r.Commit(ctx, changes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "-", "changes file")
	return cmd
}

func newResyncCmd() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Reconcile every module against the running configuration again",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := opts.dial()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if err := r.Resync(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reconciled")
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// httpRemote talks to the HTTP surface
type httpRemote struct {
	base   string
	client *http.Client
}

func (h *httpRemote) Commit(ctx context.Context, changes []datastore.Change) (*service.CommitResult, error) {
	body, err := json.Marshal(codec.ChangeSet{Changes: changes})
	if err != nil {
		return nil, err
	}
	var res service.CommitResult
	if err := h.do(ctx, http.MethodPost, "/api/commit", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (h *httpRemote) Query(ctx context.Context, path string) (*gearbox.Document, error) {
	var doc gearbox.Document
	if err := h.do(ctx, http.MethodGet, "/api/gearboxes?path="+url.QueryEscape(path), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (h *httpRemote) Resync(ctx context.Context) error {
	return h.do(ctx, http.MethodPost, "/api/resync", nil, nil)
}

func (h *httpRemote) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e handler.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		if e.Details != "" {
			return fmt.Errorf("%s (%d): %s", e.Error, resp.StatusCode, e.Details)
		}
		return fmt.Errorf("%s (%d)", e.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
