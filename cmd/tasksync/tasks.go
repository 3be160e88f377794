package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"task-manager/tasksync/internal/app"
	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"

	"github.com/spf13/cobra"
)

func listCmd(flags *globalFlags) *cobra.Command {
	var day string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, grouped by day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				var tasks []models.Task
				var err error
				if day != "" {
					if day == "today" {
						day = dates.TodayPT(time.Now())
					}
					tasks, err = a.Store.FetchTasksByDay(ctx, day)
				} else {
					tasks, err = a.Store.FetchTasks(ctx)
				}
				if err != nil {
					return err
				}

				if msg := a.Store.LastError(); msg != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), msg)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), tasks)
				}
				printTasks(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&day, "day", "d", "", "Only show this day (YYYY-MM-DD or today)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func addCmd(flags *globalFlags) *cobra.Command {
	var due, category string
	var priority bool

	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := models.ParseCategory(category)
			if err != nil {
				return err
			}
			if due == "" || due == "today" {
				due = dates.TodayPT(time.Now())
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				task, err := a.Store.CreateTask(ctx, models.TaskInput{
					Title:    args[0],
					DueDate:  due,
					Category: c,
					Priority: priority,
				})
				if err != nil {
					return err
				}
				return report(cmd, a, "Created", task)
			})
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "Due day (YYYY-MM-DD, default today)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category (work, personal, health, shopping, other)")
	cmd.Flags().BoolVarP(&priority, "priority", "p", false, "Mark as priority")

	return cmd
}

func doneCmd(flags *globalFlags) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "done [id]",
		Short: "Mark a task complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.StatusComplete
			if undo {
				status = models.StatusIncomplete
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if err := loadCached(ctx, a); err != nil {
					return err
				}
				task, err := a.Store.UpdateTask(ctx, args[0], models.TaskPatch{Status: &status})
				if err != nil {
					return err
				}
				return report(cmd, a, "Updated", task)
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "Mark the task incomplete again")

	return cmd
}

func moveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "move [id] [day]",
		Short: "Move a task to another day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if err := loadCached(ctx, a); err != nil {
					return err
				}
				task, err := a.Store.MoveTask(ctx, args[0], models.MoveInput{DueDate: args[1]})
				if err != nil {
					return err
				}
				return report(cmd, a, "Moved", task)
			})
		},
	}
}

func reorderCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder [id] [order]",
		Short: "Change a task's position within its day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("order must be a number: %w", err)
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if err := loadCached(ctx, a); err != nil {
					return err
				}
				task, err := a.Store.ReorderTask(ctx, args[0], order)
				if err != nil {
					return err
				}
				return report(cmd, a, "Reordered", task)
			})
		},
	}
}

func rmCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm [id]",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if err := loadCached(ctx, a); err != nil {
					return err
				}
				if err := a.Store.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				if msg := a.Store.LastError(); msg != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), msg)
				}
				return nil
			})
		},
	}
}

// loadCached populates the store before a mutation so the target id is
// known. A fetch failure with nothing cached is not fatal here; the
// mutation itself reports the missing task.
func loadCached(ctx context.Context, a *app.App) error {
	if _, err := a.Store.FetchTasks(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func report(cmd *cobra.Command, a *app.App, verb string, task models.Task) error {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %q (%s)\n", verb, task.ID, task.Title, task.Day())
	if msg := a.Store.LastError(); msg != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), msg)
	}
	return nil
}

func printTasks(w io.Writer, tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}

	byDay := dates.GroupByDay(tasks, func(t models.Task) time.Time { return t.DueDate })
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, day := range days {
		fmt.Fprintf(tw, "%s\n", day)
		bucket := byDay[day]
		models.SortByOrder(bucket)
		for _, t := range bucket {
			mark := " "
			if t.Status == models.StatusComplete {
				mark = "x"
			}
			flag := ""
			if t.Priority {
				flag = "!"
			}
			if t.Rollover {
				flag += "r"
			}
			fmt.Fprintf(tw, "  [%s]\t%s\t%s\t%s\t%s\n", mark, t.ID, t.Title, t.Category, flag)
		}
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
