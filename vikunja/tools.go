package vikunja

import (
	"context"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/mcp"
	"github.com/go-vikunja/vikunja-mcp/tools"
)

type createTaskArgs struct {
	Title       string `json:"title" jsonschema_description:"Task title"`
	ProjectID   int64  `json:"project_id" jsonschema_description:"ID of the project to create the task in"`
	Description string `json:"description,omitempty" jsonschema_description:"Task description"`
	DueDate     string `json:"due_date,omitempty" jsonschema_description:"Due date in RFC 3339 format"`
	Priority    int    `json:"priority,omitempty" jsonschema_description:"Priority from 0 (unset) to 5 (urgent)"`
}

type getTaskArgs struct {
	ID int64 `json:"id" jsonschema_description:"Task ID"`
}

type updateTaskArgs struct {
	ID          int64  `json:"id" jsonschema_description:"Task ID"`
	Title       string `json:"title,omitempty" jsonschema_description:"New task title"`
	Description string `json:"description,omitempty" jsonschema_description:"New task description"`
	Done        bool   `json:"done,omitempty" jsonschema_description:"Mark the task done"`
	DueDate     string `json:"due_date,omitempty" jsonschema_description:"New due date in RFC 3339 format"`
	Priority    int    `json:"priority,omitempty" jsonschema_description:"New priority from 0 (unset) to 5 (urgent)"`
}

type listProjectsArgs struct{}

type updateProjectArgs struct {
	ID          int64  `json:"id" jsonschema_description:"Project ID"`
	Title       string `json:"title,omitempty" jsonschema_description:"New project title"`
	Description string `json:"description,omitempty" jsonschema_description:"New project description"`
}

// Toolset builds the task-management tools backed by the given client.
// Every tool runs with the calling user's own token, so upstream access
// control is Vikunja's, not ours.
func Toolset(c *Client) []tools.Tool {
	return []tools.Tool{
		tools.NewTool("create_task", func(ctx context.Context, user *auth.UserContext, args createTaskArgs) (*mcp.CallToolResult, error) {
			task, err := c.CreateTask(ctx, user.Token, args.ProjectID, &Task{
				Title:       args.Title,
				Description: args.Description,
				DueDate:     args.DueDate,
				Priority:    args.Priority,
			})
			if err != nil {
				return nil, err
			}
			return tools.JSONResult(task), nil
		}, tools.WithDescription("Create a task in a Vikunja project")),

		tools.NewTool("get_task", func(ctx context.Context, user *auth.UserContext, args getTaskArgs) (*mcp.CallToolResult, error) {
			task, err := c.GetTask(ctx, user.Token, args.ID)
			if err != nil {
				return nil, err
			}
			return tools.JSONResult(task), nil
		}, tools.WithDescription("Fetch a single task by ID")),

		tools.NewTool("update_task", func(ctx context.Context, user *auth.UserContext, args updateTaskArgs) (*mcp.CallToolResult, error) {
			task, err := c.UpdateTask(ctx, user.Token, &Task{
				ID:          args.ID,
				Title:       args.Title,
				Description: args.Description,
				Done:        args.Done,
				DueDate:     args.DueDate,
				Priority:    args.Priority,
			})
			if err != nil {
				return nil, err
			}
			return tools.JSONResult(task), nil
		}, tools.WithDescription("Update fields of an existing task")),

		tools.NewTool("list_projects", func(ctx context.Context, user *auth.UserContext, args listProjectsArgs) (*mcp.CallToolResult, error) {
			projects, err := c.ListProjects(ctx, user.Token)
			if err != nil {
				return nil, err
			}
			return tools.JSONResult(projects), nil
		}, tools.WithDescription("List the projects visible to the caller")),

		tools.NewTool("update_project", func(ctx context.Context, user *auth.UserContext, args updateProjectArgs) (*mcp.CallToolResult, error) {
			project, err := c.UpdateProject(ctx, user.Token, &Project{
				ID:          args.ID,
				Title:       args.Title,
				Description: args.Description,
			})
			if err != nil {
				return nil, err
			}
			return tools.JSONResult(project), nil
		}, tools.WithDescription("Update fields of an existing project")),
	}
}
