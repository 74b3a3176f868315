// Command orderctl administers the order number counter and the product catalog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/finitefield/order-desk/internal/di"
	"github.com/finitefield/order-desk/internal/platform/config"
	"github.com/finitefield/order-desk/internal/platform/observability"
	"github.com/finitefield/order-desk/internal/platform/requestctx"
	"github.com/finitefield/order-desk/internal/platform/secrets"
	"github.com/finitefield/order-desk/internal/platform/storage"
	"github.com/finitefield/order-desk/internal/services"
)

const usage = `usage:
  orderctl counter show
  orderctl counter init -value N [-force]
  orderctl catalog import -file catalog.yaml|gs://bucket/catalog.yaml
  orderctl catalog show -product ID`

var errUsage = errors.New(usage)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger(zap.String("component", "orderctl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	ctx = requestctx.WithLogger(ctx, logger)

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Error("orderctl failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}

	resolver, err := secrets.NewResolver(ctx, secrets.WithLogger(requestctx.Logger(ctx)))
	if err != nil {
		return err
	}
	defer resolver.Close()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		return err
	}
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(requestctx.Logger(ctx)))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = container.Close(closeCtx)
	}()

	return execute(ctx, cli{catalog: container.Services.Catalog, open: openSource}, args, out)
}

// cli carries the collaborators a subcommand needs.
type cli struct {
	catalog services.CatalogService
	open    func(ctx context.Context, path string) (io.ReadCloser, error)
}

// openSource opens a local file or a gs:// object.
func openSource(ctx context.Context, path string) (io.ReadCloser, error) {
	if !storage.IsObjectURI(path) {
		return os.Open(path)
	}
	uri, err := storage.ParseObjectURI(path)
	if err != nil {
		return nil, err
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	reader, err := storage.NewReader(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	rc, err := reader.Open(ctx, uri)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &closeBoth{ReadCloser: rc, client: client}, nil
}

type closeBoth struct {
	io.ReadCloser
	client *gcs.Client
}

func (c *closeBoth) Close() error {
	return errors.Join(c.ReadCloser.Close(), c.client.Close())
}

// execute dispatches one subcommand.
func execute(ctx context.Context, app cli, args []string, out io.Writer) error {
	catalog := app.catalog
	if len(args) < 2 {
		return errUsage
	}
	group, cmd, rest := args[0], args[1], args[2:]

	switch group + " " + cmd {
	case "counter show":
		counter, err := catalog.CurrentCounter(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "count=%d updatedAt=%s\n", counter.Count, counter.UpdatedAt.UTC().Format(time.RFC3339))
		return nil

	case "counter init":
		fs := flag.NewFlagSet("counter init", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		value := fs.Int64("value", -1, "value of the last issued order number")
		force := fs.Bool("force", false, "overwrite an existing counter")
		if err := fs.Parse(rest); err != nil || *value < 0 {
			return errUsage
		}
		if err := catalog.InitializeCounter(ctx, services.InitializeCounterCommand{
			Value:   *value,
			Force:   *force,
			ActorID: "orderctl",
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "counter initialised at %d; next order number is %d\n", *value, *value+1)
		return nil

	case "catalog import":
		fs := flag.NewFlagSet("catalog import", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		path := fs.String("file", "", "catalog YAML file or gs:// uri")
		if err := fs.Parse(rest); err != nil || *path == "" {
			return errUsage
		}
		f, err := app.open(ctx, *path)
		if err != nil {
			return err
		}
		defer f.Close()
		products, err := decodeCatalog(f)
		if err != nil {
			return err
		}
		for _, product := range products {
			if err := catalog.ImportProduct(ctx, product); err != nil {
				return fmt.Errorf("import %s: %w", product.ID, err)
			}
			fmt.Fprintf(out, "imported %s (%d skus)\n", product.ID, len(product.SKUs))
		}
		return nil

	case "catalog show":
		fs := flag.NewFlagSet("catalog show", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		productID := fs.String("product", "", "product id")
		if err := fs.Parse(rest); err != nil || *productID == "" {
			return errUsage
		}
		product, err := catalog.GetProduct(ctx, *productID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s %s\n", product.ID, product.ProductNumber, product.ProductName)
		for _, sku := range product.SKUs {
			fmt.Fprintf(out, "  %s size=%s outstanding=%d\n", sku.ID, sku.Size, sku.OutstandingQuantity)
		}
		return nil
	}
	return errUsage
}
