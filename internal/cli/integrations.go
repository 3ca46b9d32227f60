package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type integrationsCmd struct{}

func (*integrationsCmd) Name() string     { return "integrations" }
func (*integrationsCmd) Synopsis() string { return "manage configured integrations" }
func (*integrationsCmd) Usage() string {
	return `finsync integrations list
finsync integrations add NAME [-option key=value]...

  Lists configured integrations, or adds one. NAME must match a
  registered provider (csv, ofx, or demo in demo mode). Options are
  provider settings, e.g. -option path=/exports/checking.csv.
`
}

func (*integrationsCmd) SetFlags(*flag.FlagSet) {}

func (c *integrationsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		fmt.Print(c.Usage())
		return subcommands.ExitUsageError
	}

	app, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer app.Close()

	switch args[0] {
	case "list":
		return c.list(ctx, app)
	case "add":
		if len(args) < 2 {
			fmt.Print(c.Usage())
			return subcommands.ExitUsageError
		}
		return c.add(ctx, app, args[1], args[2:])
	}
	fmt.Print(c.Usage())
	return subcommands.ExitUsageError
}

func (c *integrationsCmd) list(ctx context.Context, app *app) subcommands.ExitStatus {
	integrations, err := app.store.ListIntegrations(ctx)
	if err != nil {
		return fail(err)
	}
	ui.Header("Integrations")
	if len(integrations) == 0 {
		ui.Muted("none configured")
		return subcommands.ExitSuccess
	}
	for _, integ := range integrations {
		ui.Success(integ.Name)
		for key, value := range integ.Options {
			ui.Muted(fmt.Sprintf("%s = %s", key, value))
		}
	}
	return subcommands.ExitSuccess
}

func (c *integrationsCmd) add(ctx context.Context, app *app, name string, rest []string) subcommands.ExitStatus {
	if _, err := app.registry.Lookup(name); err != nil {
		return fail(fmt.Errorf("%w (registered providers: %s)",
			err, strings.Join(app.registry.Names(), ", ")))
	}

	sub := flag.NewFlagSet("integrations add", flag.ContinueOnError)
	var pairs stringList
	sub.Var(&pairs, "option", "Provider setting as key=value (repeatable).")
	if err := sub.Parse(rest); err != nil {
		return subcommands.ExitUsageError
	}

	options := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fail(fmt.Errorf("invalid -option %q: want key=value", pair))
		}
		options[key] = value
	}

	if err := app.store.UpsertIntegration(ctx, name, options); err != nil {
		return fail(err)
	}
	ui.Success(fmt.Sprintf("integration %s configured with %d options", name, len(options)))
	return subcommands.ExitSuccess
}
