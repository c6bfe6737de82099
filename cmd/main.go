/*
Copyright 2024 Lattice Payments Authors.

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

	"github.com/lattice-pay/lattice"
	"github.com/lattice-pay/lattice/config"
	"github.com/lattice-pay/lattice/database"
	"github.com/lattice-pay/lattice/internal/notification"
)

// Lattice represents the CLI application, encapsulating the root Cobra command.
type Lattice struct {
	cmd *cobra.Command
}

// latticeInstance holds the runtime service and its configuration for the
// subcommands.
type latticeInstance struct {
	lattice *lattice.Lattice
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service before any
// subcommand runs.
func preRun(app *latticeInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("lattice.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newLattice, err := setupLattice(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.lattice = newLattice
		app.cnf = cnf

		return nil
	}
}

// setupLattice connects the datasource and builds the service instance.
func setupLattice(cfg *config.Configuration) (*lattice.Lattice, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newLattice, err := lattice.NewLattice(db)
	if err != nil {
		return nil, fmt.Errorf("error creating lattice: %v", err)
	}
	return newLattice, nil
}

// NewCLI creates the command-line interface for the connector.
func NewCLI() *Lattice {
	var configFile string
	b := &latticeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "lattice",
		Short: "Payment channel connector core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./lattice.json", "Configuration file for the connector")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Lattice{cmd: rootCmd}
}

// executeCLI runs the root command and handles errors.
func (w Lattice) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
