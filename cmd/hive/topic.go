package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/fentz26/hive/internal/bus"
	"github.com/spf13/cobra"
)

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Manage bus topics",
}

var topicListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics and subscriber counts",
	RunE:  runTopicList,
}

var topicCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a topic",
	Args:  cobra.ExactArgs(1),
	RunE:  runTopicCreate,
}

var topicRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a topic and its subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE:  runTopicRemove,
}

var topicPublishCmd = &cobra.Command{
	Use:   "publish [name] [json-payload]",
	Short: "Publish a message to a topic",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTopicPublish,
}

var (
	topicDesc   string
	publishFrom string
)

func init() {
	topicCmd.AddCommand(topicListCmd, topicCreateCmd, topicRemoveCmd, topicPublishCmd)

	topicCreateCmd.Flags().StringVar(&topicDesc, "desc", "", "Topic description")

	hostname, _ := os.Hostname()
	topicPublishCmd.Flags().StringVar(&publishFrom, "from", fmt.Sprintf("cli@%s", hostname), "Sender id")
}

func runTopicList(cmd *cobra.Command, args []string) error {
	var topics []bus.TopicInfo
	if err := apiGetJSON("/topics", &topics); err != nil {
		return err
	}
	if len(topics) == 0 {
		fmt.Println("No topics found")
		return nil
	}

	t := newTable(os.Stdout, "TOPIC", "SUBSCRIBERS", "DESCRIPTION")
	for _, info := range topics {
		t.row(info.Name, strconv.Itoa(info.Subscribers), info.Description)
	}
	return t.flush()
}

func runTopicCreate(cmd *cobra.Command, args []string) error {
	body := map[string]string{"name": args[0], "description": topicDesc}
	if _, err := apiPost("/topics", body); err != nil {
		return err
	}
	fmt.Printf("Created topic %s\n", args[0])
	return nil
}

func runTopicRemove(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/topics/" + url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Printf("Removed topic %s\n", args[0])
	return nil
}

func runTopicPublish(cmd *cobra.Command, args []string) error {
	payload := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}

	body := map[string]any{"from": publishFrom, "payload": payload}
	if _, err := apiPost("/topics/"+url.PathEscape(args[0])+"/publish", body); err != nil {
		return err
	}
	fmt.Printf("Published to %s\n", args[0])
	return nil
}
