package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/aquabase/tanklink/cmd"
)

func main() {
	app := &cli.App{
		Name:   "tanklink-controller",
		Usage:  "controller for water tank base stations",
		Action: cmd.ControllerCommand,
		Before: func(_ *cli.Context) error {
			// A missing .env is fine, the environment may be set directly.
			_ = godotenv.Load()
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				EnvVars:  []string{"DATABASE_URL"},
				Value:    "",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "migrations-folder",
				EnvVars:  []string{"MIGRATIONS_FOLDER"},
				Value:    "",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "redis-address",
				EnvVars:  []string{"REDIS_ADDRESS"},
				Value:    "",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{"REDIS_PASSWORD"},
				Value:   "",
			},
			&cli.IntFlag{
				Name:    "redis-db",
				EnvVars: []string{"REDIS_DB"},
				Value:   0,
			},
			&cli.StringFlag{
				Name:     "mqtt-broker-url",
				EnvVars:  []string{"MQTT_BROKER_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "mqtt-client-id",
				EnvVars: []string{"MQTT_CLIENT_ID"},
				Value:   "tanklink-controller",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "influx-url",
				EnvVars: []string{"INFLUX_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "influx-token",
				EnvVars: []string{"INFLUX_TOKEN"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "influx-org",
				EnvVars: []string{"INFLUX_ORG"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "influx-bucket",
				EnvVars: []string{"INFLUX_BUCKET"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				EnvVars: []string{"WEBHOOK_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "http-addr",
				EnvVars: []string{"HTTP_ADDR"},
				Value:   "0.0.0.0:8000",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
