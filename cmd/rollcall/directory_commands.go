package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/apiclient"
)

func newUserCommand(ctx *commandContext) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}

	var email string
	addCmd := &cobra.Command{
		Use:   "add <name> <admin|instructor|student>",
		Short: "Add a user (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.CreateUserRequest{Name: args[0], Email: email, Role: args[1]}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				user, err := client.CreateUser(c, req)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.UserResponse{User: *user}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "User %d created: %s (%s)\n", user.ID, user.Name, user.Role)
					return nil
				})
			})
		},
	}
	addCmd.Flags().StringVar(&email, "email", "", "Email address")

	var role string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				users, err := client.Users(c, role)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.UserListResponse{Users: users}, func() error {
					fmt.Fprint(cmd.OutOrStdout(), renderUserTable(users))
					return nil
				})
			})
		},
	}
	listCmd.Flags().StringVar(&role, "role", "", "Only list users with this role")

	userCmd.AddCommand(addCmd, listCmd)
	return userCmd
}

func newCourseCommand(ctx *commandContext) *cobra.Command {
	courseCmd := &cobra.Command{
		Use:   "course",
		Short: "Manage courses and enrollment",
	}

	courseCmd.AddCommand(&cobra.Command{
		Use:   "add <name> <instructor-id>",
		Short: "Create a course (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instructorID, err := parseID("instructor id", args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				course, err := client.CreateCourse(c, args[0], instructorID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.CourseResponse{Course: *course}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Course %d created: %s\n", course.ID, course.Name)
					return nil
				})
			})
		},
	})

	courseCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the courses visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				courses, err := client.Courses(c)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.CourseListResponse{Courses: courses}, func() error {
					out := cmd.OutOrStdout()
					if len(courses) == 0 {
						fmt.Fprintln(out, "No courses")
						return nil
					}
					rows := make([][]string, 0, len(courses))
					for _, course := range courses {
						rows = append(rows, []string{idString(course.ID), course.Name, idString(course.InstructorID)})
					}
					fmt.Fprint(out, renderTable([]string{"ID", "Name", "Instructor"}, rows, []columnAlignment{alignRight, alignLeft, alignRight}))
					return nil
				})
			})
		},
	})

	courseCmd.AddCommand(&cobra.Command{
		Use:   "students <course-id>",
		Short: "List enrolled students",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := parseID("course id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				students, err := client.CourseStudents(c, courseID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.StudentListResponse{Students: students}, func() error {
					fmt.Fprint(cmd.OutOrStdout(), renderUserTable(students))
					return nil
				})
			})
		},
	})

	courseCmd.AddCommand(newEnrollmentCommand(ctx, "enroll", "Enroll a student in a course", func(c context.Context, client *apiclient.Client, courseID, studentID int64) error {
		return client.Enroll(c, courseID, studentID)
	}))
	courseCmd.AddCommand(newEnrollmentCommand(ctx, "unenroll", "Remove a student from a course", func(c context.Context, client *apiclient.Client, courseID, studentID int64) error {
		return client.Unenroll(c, courseID, studentID)
	}))

	return courseCmd
}

func newEnrollmentCommand(ctx *commandContext, name, short string, apply func(context.Context, *apiclient.Client, int64, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <course-id> <student-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := parseID("course id", args[0])
			if err != nil {
				return err
			}
			studentID, err := parseID("student id", args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				if err := apply(c, client, courseID, studentID); err != nil {
					return err
				}
				verb := "enrolled in"
				if name == "unenroll" {
					verb = "removed from"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Student %d %s course %d\n", studentID, verb, courseID)
				return nil
			})
		},
	}
}

func renderUserTable(users []api.User) string {
	if len(users) == 0 {
		return "No users\n"
	}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{idString(u.ID), u.Name, dash(u.Email), displayLabel(u.Role)})
	}
	return renderTable([]string{"ID", "Name", "Email", "Role"}, rows, []columnAlignment{alignRight})
}
