package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runRestore(args[1:])
	case "jobs":
		return runJobs(args[1:])
	case "resume":
		return runResume(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("tape-restorer: resumable pipeline for restoring digitized tape video")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  tape-restorer doctor")
	fmt.Println("  tape-restorer run --input tape.mkv --output restored.mkv --filter-script restore.vpy")
	fmt.Println("  tape-restorer jobs")
	fmt.Println("  tape-restorer resume")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run     restore one tape through the filter/encode pipeline")
	fmt.Println("  jobs    list checkpointed jobs and sweep stale ones")
	fmt.Println("  resume  pick an interrupted job and continue it")
	fmt.Println("  doctor  check external tool availability")
	fmt.Println()
	fmt.Println("Interrupted runs keep their progress: re-running the same input")
	fmt.Println("and settings resumes from the last checkpoint.")
}
