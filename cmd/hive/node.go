package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/node"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes known to the daemon",
	RunE:  runNodeList,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and queue counts",
	RunE:  runStatus,
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
}

func runNodeList(cmd *cobra.Command, args []string) error {
	var nodes []node.Info
	if err := apiGetJSON("/nodes", &nodes); err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Println("No nodes found")
		return nil
	}

	t := newTable(os.Stdout, "ID", "NAME", "KIND", "RUNNING", "TOPICS")
	for _, n := range nodes {
		running := "no"
		if n.Running {
			running = "yes"
		}
		t.row(n.ID[:8], n.Name, string(n.Kind), running, strings.Join(n.Topics, ","))
	}
	return t.flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if health == nil {
		return err
	}
	field("Daemon", apiAddr)
	field("Version", health.Version)
	field("Database", health.DB)
	if err != nil {
		return err
	}

	var stats struct {
		Tasks map[models.State]int `json:"tasks"`
		Bus   bus.Stats            `json:"bus"`
		Nodes int                  `json:"nodes"`
	}
	if err := apiGetJSON("/stats", &stats); err != nil {
		return err
	}
	field("Nodes", fmt.Sprint(stats.Nodes))
	field("Bus", fmt.Sprintf("%d workers, %d running, %d waiting, %d delivered", stats.Bus.Workers, stats.Bus.Running, stats.Bus.Waiting, stats.Bus.Completed))

	states := make([]models.State, 0, len(stats.Tasks))
	for s := range stats.Tasks {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for _, s := range states {
		field(s.Label(), fmt.Sprint(stats.Tasks[s]))
	}
	return nil
}
