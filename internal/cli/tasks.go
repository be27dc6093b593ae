package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/pkg/driveclient"
)

func newTasksCmd() *cobra.Command {
	var (
		cf       clientFlags
		status   string
		dir      string
		cancel   string
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List, cancel or clear remote downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cf.client()
			switch {
			case cancel != "":
				if err := c.CancelTask(cmd.Context(), cancel); err != nil {
					return err
				}
				printSuccess("task " + cancel + " cancelled")
				return nil
			case clearAll:
				n, err := c.Clear(cmd.Context())
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("%d finished tasks removed", n))
				return nil
			}

			filter := models.TaskFilter{StorageID: cf.storage, TargetDir: dir}
			if status != "" {
				st, err := models.ParseTaskStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}
			tasks, err := c.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			renderTasks(os.Stdout, tasks)
			return nil
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVarP(&dir, "path", "p", "", "filter by target directory")
	cmd.Flags().StringVar(&cancel, "cancel", "", "cancel or dismiss a task by id")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "remove all finished tasks")
	return cmd
}

func renderTasks(w io.Writer, tasks []models.RemoteTask) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, detailStyle.Render("no tasks"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(detailStyle).
		Headers("ID", "FILE", "STATUS", "PROGRESS", "SPEED", "CREATED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(tasks) {
				return statusStyle(tasks[row].Status)
			}
			return lipgloss.NewStyle()
		})
	for _, task := range tasks {
		t.Row(
			task.ID[:min(8, len(task.ID))],
			joinPath(task.TargetDir, task.FileName),
			string(task.Status),
			taskProgress(task),
			driveclient.HumanBytes(task.Speed)+"/s",
			task.CreatedAt.Local().Format(time.DateTime),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func statusStyle(st models.TaskStatus) lipgloss.Style {
	switch st {
	case models.TaskCompleted:
		return successStyle
	case models.TaskFailed:
		return errorStyle
	case models.TaskCancelled:
		return warningStyle
	default:
		return pendingStyle
	}
}

func taskProgress(t models.RemoteTask) string {
	if t.Error != "" {
		return t.Error
	}
	if t.Total == nil || *t.Total <= 0 {
		return driveclient.HumanBytes(t.Downloaded)
	}
	return fmt.Sprintf("%3.0f%% of %s", float64(t.Downloaded)*100/float64(*t.Total), driveclient.HumanBytes(*t.Total))
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
