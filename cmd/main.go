/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	paydash "github.com/jingkai27/payments-dashboard"
	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/database"
	"github.com/jingkai27/payments-dashboard/internal/notification"
)

// Paydash wraps the root cobra command.
type Paydash struct {
	cmd *cobra.Command
}

// paydashInstance holds the service and its configuration for subcommands.
type paydashInstance struct {
	paydash *paydash.Paydash
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the Paydash instance before any
// subcommand executes.
func preRun(app *paydashInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("paydash.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPaydash, err := setupPaydash(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.paydash = newPaydash
		app.cnf = cnf

		return nil
	}
}

func setupPaydash(cfg *config.Configuration) (*paydash.Paydash, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newPaydash, err := paydash.NewPaydash(db)
	if err != nil {
		return nil, fmt.Errorf("error creating paydash: %v", err)
	}
	return newPaydash, nil
}

func NewCLI() *Paydash {
	var configFile string
	b := &paydashInstance{}

	var rootCmd = &cobra.Command{
		Use:   "paydash",
		Short: "Payment orchestration and reconciliation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./paydash.json", "Configuration file for paydash")
	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(settlementCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Paydash{cmd: rootCmd}
}

func (w Paydash) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
