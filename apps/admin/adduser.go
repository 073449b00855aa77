package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/user"
)

var roleMap = map[string][]string{
	"teacher": {user.RoleTeacher},
	"student": {user.RoleStudent},
	"admin":   {user.RoleAdmin},
}

func (cli *commandLine) addUser(name, email, role, token, pwd string) error {
	roles, ok := roleMap[core.CleanString(role, true /* lower */)]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	now := time.Now().UTC()
	isActive := true
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      core.CleanString(name),
		Email:     core.CleanString(email, true /* lower */),
		IsActive:  &isActive,
		Roles:     roles,
		PushToken: core.CleanString(token),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	usr, err := cli.dirRepo.CreateUser(context.Background(), usr)
	if err != nil {
		return err
	}
	logger.Printf("user %s (%s) created", usr.Email, usr.ID)
	return nil
}

func (cli *commandLine) enroll(email, subjectGroupID string) error {
	ctx := context.Background()
	usr, err := cli.dirRepo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if err = cli.dirRepo.EnrollUser(ctx, usr.ID, core.CleanString(subjectGroupID, true /* lower */)); err != nil {
		return err
	}
	logger.Printf("user %s enrolled in %s", usr.Email, subjectGroupID)
	return nil
}
