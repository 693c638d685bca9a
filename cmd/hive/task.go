package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/fentz26/hive/internal/models"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [description]",
	Short: "Add a new task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details, runs and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStateCmd = &cobra.Command{
	Use:   "state [task-id] [state]",
	Short: "Change a task's state",
	Long:  `Change a task's state. Setting AVAILABLE on a finished task queues it again.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskState,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Preview the tasks that would be dispatched next",
	RunE:  runTaskNext,
}

var (
	taskPriority int
	taskHold     bool
	taskTags     []string
	taskFiles    []string
	taskAgent    string
	taskThread   string
	taskStates   []string
	taskLimit    int
	nextCount    int
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStateCmd, taskDeleteCmd, taskNextCmd)

	taskAddCmd.Flags().IntVarP(&taskPriority, "priority", "p", 0, "Priority (0 is most urgent)")
	taskAddCmd.Flags().BoolVar(&taskHold, "hold", false, "Create the task ON_HOLD instead of AVAILABLE")
	taskAddCmd.Flags().StringSliceVar(&taskTags, "tag", nil, "Tag (repeatable)")
	taskAddCmd.Flags().StringSliceVar(&taskFiles, "file", nil, "Referenced file (repeatable)")
	taskAddCmd.Flags().StringVar(&taskAgent, "agent", "", "Assigned agent")
	taskAddCmd.Flags().StringVar(&taskThread, "thread", "", "Thread/correlation id")

	taskListCmd.Flags().StringSliceVar(&taskStates, "state", nil, "Filter by state (repeatable)")
	taskListCmd.Flags().StringVar(&taskAgent, "agent", "", "Filter by assigned agent")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 0, "Maximum number of tasks")

	taskNextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "Number of tasks to preview")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"description":    args[0],
		"priority":       taskPriority,
		"tags":           taskTags,
		"files":          taskFiles,
		"assigned_agent": taskAgent,
		"thread_id":      taskThread,
	}
	if taskHold {
		body["state"] = models.StateOnHold
	}

	var task models.Task
	if err := apiPostJSON("/tasks", body, &task); err != nil {
		return err
	}

	fmt.Printf("Created task %d (%s)\n", task.ID, renderState(task.State))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if len(taskStates) > 0 {
		q.Set("state", strings.Join(taskStates, ","))
	}
	if taskAgent != "" {
		q.Set("agent", taskAgent)
	}
	if taskLimit > 0 {
		q.Set("limit", strconv.Itoa(taskLimit))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []models.Task
	if err := apiGetJSON(path, &tasks); err != nil {
		return err
	}
	return printTasks(tasks)
}

func runTaskNext(cmd *cobra.Command, args []string) error {
	var tasks []models.Task
	if err := apiGetJSON(fmt.Sprintf("/tasks/next?count=%d", nextCount), &tasks); err != nil {
		return err
	}
	return printTasks(tasks)
}

func printTasks(tasks []models.Task) error {
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	t := newTable(os.Stdout, "ID", "PRIO", "STATE", "DESCRIPTION", "CLAIMED BY")
	for _, task := range tasks {
		t.row(
			strconv.FormatInt(task.ID, 10),
			strconv.Itoa(task.Priority),
			renderState(task.State),
			truncate(task.Description, 48),
			task.ClaimedBy,
		)
	}
	return t.flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var task models.Task
	if err := apiGetJSON("/tasks/"+args[0], &task); err != nil {
		return err
	}

	field("ID", strconv.FormatInt(task.ID, 10))
	field("Description", task.Description)
	field("Priority", strconv.Itoa(task.Priority))
	field("State", renderState(task.State))
	if task.AssignedAgent != "" {
		field("Agent", task.AssignedAgent)
	}
	field("Tags", orNone(task.Tags))
	field("Files", orNone(task.Files))
	if task.ThreadID != "" {
		field("Thread", task.ThreadID)
	}
	if task.ClaimedBy != "" {
		field("Claimed By", task.ClaimedBy)
	}
	field("Created", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	field("Updated", task.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	var runs []models.Run
	if err := apiGetJSON("/tasks/"+args[0]+"/runs", &runs); err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("Runs"))
		t := newTable(os.Stdout, "STARTED", "EXECUTOR", "RESULT", "ERROR")
		for _, r := range runs {
			t.row(r.StartedAt.Local().Format("01-02 15:04:05"), r.Executor, renderState(r.FinalState), truncate(r.Error, 40))
		}
		if err := t.flush(); err != nil {
			return err
		}
	}

	var entries []models.PDREntry
	if err := apiGetJSON("/tasks/"+args[0]+"/audit", &entries); err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("Audit"))
		for _, e := range entries {
			fmt.Printf("  %s  %-16s %s\n", mutedStyle.Render(e.Timestamp.Local().Format("01-02 15:04:05")), e.Action, e.Details)
		}
	}
	return nil
}

func runTaskState(cmd *cobra.Command, args []string) error {
	state, err := models.ParseState(args[1])
	if err != nil {
		return err
	}

	var task models.Task
	if err := apiPostJSON("/tasks/"+args[0]+"/state", map[string]string{"state": string(state)}, &task); err != nil {
		return err
	}

	fmt.Printf("Task %d is now %s\n", task.ID, renderState(task.State))
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/tasks/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted task %s\n", args[0])
	return nil
}
