package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/service"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Create and list projects, and grant API keys access to them.",
	}

	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectGrantCmd())
	cmd.AddCommand(newProjectRevokeGrantCmd())

	return cmd
}

// ---------- project create ----------

func newProjectCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new project",
		Args:  cobra.ExactArgs(1),
		Example: `  keygate project create backend
  keygate project create backend --description "API backend"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCreate(args[0], description)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Project description")

	return cmd
}

func runProjectCreate(name, description string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	projectSvc := service.NewProjectService(store)
	project, err := projectSvc.CreateProject(context.Background(), name, description)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	fmt.Printf("Created project %d (%s)\n", project.ID, project.Name)
	return nil
}

// ---------- project list ----------

func newProjectListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runProjectList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	projectSvc := service.NewProjectService(store)
	projects, _, err := projectSvc.ListProjects(context.Background(), 0, 200, nil)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	type projectRow struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Active      bool   `json:"active"`
	}

	rows := make([]projectRow, len(projects))
	for i, p := range projects {
		rows[i] = projectRow{ID: p.ID, Name: p.Name, Description: p.Description, Active: p.IsActive}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No projects yet. Use 'keygate project create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-32s %-8s\n", "ID", "NAME", "DESCRIPTION", "ACTIVE")
	fmt.Printf("%-6s %-24s %-32s %-8s\n", "--", "----", "-----------", "------")
	for _, p := range rows {
		active := "yes"
		if !p.Active {
			active = "no"
		}
		fmt.Printf("%-6d %-24s %-32s %-8s\n", p.ID, p.Name, p.Description, active)
	}

	return nil
}

// ---------- project grant / revoke-grant ----------

func newProjectGrantCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "grant <project-id> <key-id>",
		Short: "Grant an API key access to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, keyID, err := parseGrantArgs(args)
			if err != nil {
				return err
			}
			return runProjectGrant(email, projectID, keyID)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Key owner account email (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runProjectGrant(email string, projectID, keyID int64) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := resolveUser(ctx, store, email)
	if err != nil {
		return err
	}

	projectSvc := service.NewProjectService(store)
	if _, err := projectSvc.AssignKey(ctx, user.ID, keyID, projectID); err != nil {
		return fmt.Errorf("grant access: %w", err)
	}

	fmt.Printf("Granted key %d access to project %d\n", keyID, projectID)
	return nil
}

func newProjectRevokeGrantCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke-grant <project-id> <key-id>",
		Short: "Remove an API key's access to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, keyID, err := parseGrantArgs(args)
			if err != nil {
				return err
			}
			return runProjectRevokeGrant(email, projectID, keyID)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Key owner account email (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runProjectRevokeGrant(email string, projectID, keyID int64) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := resolveUser(ctx, store, email)
	if err != nil {
		return err
	}

	projectSvc := service.NewProjectService(store)
	if err := projectSvc.RemoveKey(ctx, user.ID, keyID, projectID); err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}

	fmt.Printf("Removed key %d's access to project %d\n", keyID, projectID)
	return nil
}

func parseGrantArgs(args []string) (projectID, keyID int64, err error) {
	projectID, err = strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid project id %q", args[0])
	}
	keyID, err = strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid key id %q", args[1])
	}
	return projectID, keyID, nil
}
