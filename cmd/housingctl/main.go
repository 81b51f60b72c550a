// Command housingctl runs occupancy operations against the configured
// housing repository and prints the results as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"housingcore/internal/config"
	"housingcore/internal/core"
	"housingcore/internal/infra/events/amqp"
	"housingcore/internal/logging"
	"housingcore/pkg/domain"
)

const usage = `usage: housingctl <command> [flags]

commands:
  seed -file state.json
  checkin -file draft.json | -room N -name S -surname S -type renter|faculty [-email S] [-phone S] [-arrival RFC3339]
  checkout -id N
  batch-checkin -file drafts.json
  batch-checkout -ids 1,2,3
  summary -building N
  active
  report
  available [-building N]
  current -room N
  history -room N
  reconcile
`

var (
	exitFunc    = os.Exit
	openService = openConfigured
)

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// openConfigured builds a service from the environment.
func openConfigured(ctx context.Context) (*core.Service, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewWithLevel("housingctl", cfg.LogLevel, os.Stderr)
	repo, closeRepo, err := core.OpenRepository(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	opts := []core.Option{core.WithLogger(logger)}
	closers := []func() error{closeRepo}
	if cfg.Events.AMQPURL != "" {
		pub, err := amqp.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			_ = closeRepo()
			return nil, nil, err
		}
		opts = append(opts, core.WithEventPublisher(pub))
		closers = append(closers, pub.Close)
	}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	return core.NewService(repo, opts...), closeAll, nil
}

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	fs := flag.NewFlagSet("housingctl "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	run := cmd(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "housingctl: %v\n", err)
		return 1
	}
	defer func() {
		if closeFn != nil {
			_ = closeFn()
		}
	}()

	out, err := run(ctx, svc)
	var usageErr usageError
	if errors.As(err, &usageErr) {
		_, _ = fmt.Fprintf(stderr, "housingctl %s: %v\n", args[0], err)
		fs.Usage()
		return 2
	}
	if _, partial := out.([]domain.BatchResult); out != nil && (err == nil || partial) {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil {
			_, _ = fmt.Fprintf(stderr, "housingctl: encode output: %v\n", encErr)
			return 1
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "housingctl %s: %s: %v\n", args[0], domain.ErrorKind(err), err)
		return 1
	}
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

type runFunc func(ctx context.Context, svc *core.Service) (any, error)

// commands bind their flags on fs and return the action to run after parsing.
var commands = map[string]func(fs *flag.FlagSet) runFunc{
	"seed": func(fs *flag.FlagSet) runFunc {
		file := fs.String("file", "", "JSON file with buildings, rooms and tenants")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			var state domain.State
			if err := readJSON(*file, &state); err != nil {
				return nil, err
			}
			return svc.Seed(ctx, state)
		}
	},
	"checkin": func(fs *flag.FlagSet) runFunc {
		file := fs.String("file", "", "JSON file with one tenant draft")
		room := fs.Int64("room", 0, "room id")
		name := fs.String("name", "", "tenant name")
		surname := fs.String("surname", "", "tenant surname")
		kind := fs.String("type", "", "renter or faculty")
		email := fs.String("email", "", "email address")
		phone := fs.String("phone", "", "phone number")
		arrival := fs.String("arrival", "", "arrival time (RFC3339), default now")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			var draft domain.TenantDraft
			if *file != "" {
				if err := readJSON(*file, &draft); err != nil {
					return nil, err
				}
			} else {
				draft = domain.TenantDraft{
					Name:       *name,
					Surname:    *surname,
					TenantType: domain.TenantType(*kind),
					Email:      *email,
					Phone:      *phone,
					RoomID:     *room,
				}
				if *arrival != "" {
					at, err := time.Parse(time.RFC3339, *arrival)
					if err != nil {
						return nil, usageError{fmt.Sprintf("invalid -arrival: %v", err)}
					}
					draft.ArrivalDate = &at
				}
			}
			return svc.CheckIn(ctx, draft)
		}
	},
	"checkout": func(fs *flag.FlagSet) runFunc {
		id := fs.Int64("id", 0, "tenant id")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			if *id == 0 {
				return nil, usageError{"-id is required"}
			}
			return svc.CheckOut(ctx, *id)
		}
	},
	"batch-checkin": func(fs *flag.FlagSet) runFunc {
		file := fs.String("file", "", "JSON file with an array of tenant drafts")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			var drafts []domain.TenantDraft
			if err := readJSON(*file, &drafts); err != nil {
				return nil, err
			}
			return svc.BatchCheckIn(ctx, drafts)
		}
	},
	"batch-checkout": func(fs *flag.FlagSet) runFunc {
		raw := fs.String("ids", "", "comma separated tenant ids")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			ids, err := parseIDs(*raw)
			if err != nil {
				return nil, err
			}
			return svc.BatchCheckOut(ctx, ids)
		}
	},
	"summary": func(fs *flag.FlagSet) runFunc {
		building := fs.Int64("building", 0, "building id")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			if *building == 0 {
				return nil, usageError{"-building is required"}
			}
			return svc.Queries().BuildingOccupancySummary(ctx, *building)
		}
	},
	"active": func(*flag.FlagSet) runFunc {
		return func(ctx context.Context, svc *core.Service) (any, error) {
			return svc.Queries().ActiveTenants(ctx)
		}
	},
	"report": func(*flag.FlagSet) runFunc {
		return func(ctx context.Context, svc *core.Service) (any, error) {
			return svc.Queries().OccupancyReport(ctx)
		}
	},
	"available": func(fs *flag.FlagSet) runFunc {
		building := fs.Int64("building", 0, "building id, 0 for all")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			return svc.Queries().AvailableRooms(ctx, *building)
		}
	},
	"current": func(fs *flag.FlagSet) runFunc {
		room := fs.Int64("room", 0, "room id")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			if *room == 0 {
				return nil, usageError{"-room is required"}
			}
			return svc.Queries().CurrentTenantOf(ctx, *room)
		}
	},
	"history": func(fs *flag.FlagSet) runFunc {
		room := fs.Int64("room", 0, "room id")
		return func(ctx context.Context, svc *core.Service) (any, error) {
			if *room == 0 {
				return nil, usageError{"-room is required"}
			}
			return svc.Queries().TenantHistory(ctx, *room)
		}
	},
	"reconcile": func(*flag.FlagSet) runFunc {
		return func(ctx context.Context, svc *core.Service) (any, error) {
			return svc.Reconcile(ctx)
		}
	},
}

func readJSON(path string, target any) error {
	if strings.TrimSpace(path) == "" {
		return usageError{"-file is required"}
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied input file
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, usageError{"-ids is required"}
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, usageError{fmt.Sprintf("invalid id %q", p)}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
