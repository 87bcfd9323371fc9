// Command client is a small synthetic load generator: it issues buy
// requests against the frontend in a loop, the way the teaching Raft
// core's Clerk drives a kv store. Each request is sent once; a failure or
// rejection is logged and the loop moves on to the next request.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rshen/toyraft/internal/telemetry"
	"github.com/rshen/toyraft/internal/transport"
)

func main() {
	var (
		frontendAddr string
		products     []string
		requests     int
		interval     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Issue a stream of synthetic buy requests against the frontend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(frontendAddr, products, requests, interval)
		},
	}
	cmd.Flags().StringVar(&frontendAddr, "frontend", "127.0.0.1:8000", "frontend host:port")
	cmd.Flags().StringSliceVar(&products, "products", []string{"Tux", "Uno", "Clue"}, "product names to buy from")
	cmd.Flags().IntVar(&requests, "requests", 10, "number of buy requests to issue")
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "delay between requests")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("client: fatal")
	}
}

type buyRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type dataEnvelope struct {
	Data struct {
		OrderNumber int `json:"order_number"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func run(frontendAddr string, products []string, requests int, interval time.Duration) error {
	telemetry.Init("client")
	client := transport.New(2 * time.Second)

	for i := 0; i < requests; i++ {
		name := products[rand.Intn(len(products))]
		qty := 1 + rand.Intn(3)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var reply dataEnvelope
		url := fmt.Sprintf("http://%s/orders/", frontendAddr)
		_, err := client.PostJSON(ctx, url, "", buyRequest{Name: name, Quantity: qty}, &reply)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("product", name).Msg("client: request failed")
		} else if reply.Error.Message != "" {
			log.Warn().Str("product", name).Str("reason", reply.Error.Message).Msg("client: order rejected")
		} else {
			log.Info().Str("product", name).Int("quantity", qty).Int("order_number", reply.Data.OrderNumber).Msg("client: order placed")
		}
		time.Sleep(interval)
	}
	fmt.Fprintln(os.Stdout, "client: done")
	return nil
}
