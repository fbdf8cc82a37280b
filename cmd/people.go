package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "Manage persons",
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all persons with their face counts",
	RunE:  runPeopleList,
}

var peopleRenameCmd = &cobra.Command{
	Use:   "rename <person-id> <name>",
	Short: "Rename a person",
	Args:  cobra.ExactArgs(2),
	RunE:  runPeopleRename,
}

var peopleMergeCmd = &cobra.Command{
	Use:   "merge <source-id> <target-id>",
	Short: "Merge one person into another",
	Long: `Move every face of the source person to the target person and delete
the source. The merge is atomic.`,
	Args: cobra.ExactArgs(2),
	RunE: runPeopleMerge,
}

var peopleCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete persons that have no faces",
	RunE:  runPeopleCleanup,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.AddCommand(peopleListCmd)
	peopleCmd.AddCommand(peopleRenameCmd)
	peopleCmd.AddCommand(peopleMergeCmd)
	peopleCmd.AddCommand(peopleCleanupCmd)
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	persons, err := a.registry.GetAll(cmd.Context())
	if err != nil {
		return err
	}
	if len(persons) == 0 {
		fmt.Println("No persons yet")
		return nil
	}

	for _, p := range persons {
		name := p.DisplayName
		if name == "" {
			name = p.Name
		}
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %-30s %d faces\n", p.ID, name, p.FaceCount)
	}
	return nil
}

func runPeopleRename(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	person, err := a.registry.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	person.Name = args[1]
	if err := a.registry.Update(cmd.Context(), person); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %q\n", person.ID, person.Name)
	return nil
}

func runPeopleMerge(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.matcher.MergePersons(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Merged %s into %s\n", args[0], args[1])
	return nil
}

func runPeopleCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.matcher.CleanupEmptyPersons(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d empty persons\n", len(deleted))
	return nil
}
