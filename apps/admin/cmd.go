package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/mahudhurio/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// directoryRepo is the slice of the directory store the CLI needs.
type directoryRepo interface {
	CreateUser(ctx context.Context, usr user.User) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	EnrollUser(ctx context.Context, userID, subjectGroupID string) error
}

type commandLine struct {
	db      *sqlx.DB
	dirRepo directoryRepo
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate up|down|status - apply database migrations")
	fmt.Println("  adduser -name NAME -email EMAIL -role teacher|student|admin [-token PUSH_TOKEN] - create a user. The password will be prompted next.")
	fmt.Println("  enroll -email EMAIL -group SUBJECT_GROUP_ID - enroll a user in a subject group")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", "student", "One of: teacher, student, admin.")
	addUserToken := addUserCmd.String("token", "", "The user's push address (optional).")

	enrollCmd := flag.NewFlagSet("enroll", flag.ExitOnError)
	enrollEmail := enrollCmd.String("email", "", "The user's email.")
	enrollGroup := enrollCmd.String("group", "", "The subject group id.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserEmail, *addUserRole, *addUserToken, string(pwd))
	case "enroll":
		if err := enrollCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *enrollEmail == "" || *enrollGroup == "" {
			enrollCmd.Usage()
			return errHelp
		}
		return cli.enroll(*enrollEmail, *enrollGroup)
	default:
		cli.printUsage()
		return errHelp
	}
}
