package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/trace/noop"

	"x402-gateway/internal/application/payer"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/codec"
	"x402-gateway/internal/infrastructure/config"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/presentation/gateway"
)

func main() {
	app := &cli.App{
		Name:  "payclient",
		Usage: "pay-per-request HTTP client for x402 resources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "key",
				Usage:   "payer private key (hex)",
				EnvVars: []string{"CLIENT_PRIVATE_KEY"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "write structured logs to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "request a resource and pay when asked",
				ArgsUsage: "URL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "method", Value: http.MethodGet, Usage: "HTTP method"},
					&cli.StringFlag{Name: "data", Usage: "request body"},
					&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "extra header (Name: value)"},
					&cli.StringFlag{Name: "max-amount", Usage: "refuse to pay more than this many tokens (e.g. 0.10)"},
				},
				Action: get,
			},
			{
				Name:   "address",
				Usage:  "print the payer address",
				Action: address,
			},
			{
				Name:      "decode-receipt",
				Usage:     "decode an X-PAYMENT-RESPONSE header value",
				ArgsUsage: "TOKEN",
				Action:    decodeReceipt,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadSigner 設定とフラグからSignerを作成
func loadSigner(c *cli.Context) (*payer.Signer, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if key := c.String("key"); key != "" {
		cfg.Client.PrivateKey = key
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}

	capabilities, err := payment.NewCapabilities(payment.Capability{
		Scheme:  payment.SchemeExact,
		Network: payment.Network(cfg.Chain.Network),
		ChainID: cfg.Chain.ChainID,
		Asset:   common.HexToAddress(cfg.Chain.TokenAddress),
	})
	if err != nil {
		return nil, nil, err
	}

	signer, err := payer.NewSignerFromHex(cfg.Client.PrivateKey, capabilities, cfg.Client.ValidityWindow)
	if err != nil {
		return nil, nil, err
	}
	return signer, cfg, nil
}

func newLogger(c *cli.Context) *otelinfra.Logger {
	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("payclient"))
	if !c.Bool("verbose") {
		return logger.WithOutput(io.Discard)
	}
	return logger
}

func get(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return cli.Exit("URL is required", 2)
	}

	signer, cfg, err := loadSigner(c)
	if err != nil {
		return err
	}
	if limit := c.String("max-amount"); limit != "" {
		maxAmount, err := gateway.ParsePrice(limit, cfg.Chain.TokenDecimals)
		if err != nil {
			return fmt.Errorf("invalid --max-amount: %w", err)
		}
		signer.WithMaxAmount(maxAmount)
	}

	var body io.Reader
	if data := c.String("data"); data != "" {
		body = strings.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.String("method"), url, body)
	if err != nil {
		return err
	}
	for _, h := range c.StringSlice("header") {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	client := payer.NewTransport(nil, signer, newLogger(c)).Client()
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintf(c.App.ErrWriter, "%s %s\n", resp.Proto, resp.Status)
	if receipt, err := payer.DecodePaymentResponse(resp); err == nil {
		if err := printReceipt(c.App.ErrWriter, receipt); err != nil {
			return err
		}
	}

	if _, err := io.Copy(c.App.Writer, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return cli.Exit("", 1)
	}
	return nil
}

func address(c *cli.Context) error {
	signer, _, err := loadSigner(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, signer.Address().Hex())
	return nil
}

func decodeReceipt(c *cli.Context) error {
	token := c.Args().First()
	if token == "" {
		return cli.Exit("TOKEN is required", 2)
	}
	receipt, err := codec.DecodeReceipt(token)
	if err != nil {
		return err
	}
	return printReceipt(c.App.Writer, receipt)
}

func printReceipt(w io.Writer, receipt payment.SettlementReceipt) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(codec.ReceiptToWire(receipt))
}
