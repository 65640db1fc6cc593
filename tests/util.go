// Package testutil holds the fixtures shared by the test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateBranch(t *testing.T, repo branch.Repository, name, managerID string) branch.Branch {
	now := core.NowFunc()
	b, err := repo.CreateBranch(context.Background(), branch.Branch{
		Name:      name,
		ManagerID: managerID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}
	return b
}

func CreateClass(t *testing.T, repo class.Repository, branchID, teacherID, coachID, name string, capacity int) class.Class {
	now := core.NowFunc()
	cls, err := repo.CreateClass(context.Background(), class.Class{
		BranchID:  branchID,
		TeacherID: teacherID,
		CoachID:   coachID,
		Name:      name,
		Subject:   name,
		Capacity:  capacity,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return cls
}

func Enroll(t *testing.T, repo class.Repository, classID, studentID, status string) class.Enrollment {
	now := core.NowFunc()
	enr, err := repo.CreateEnrollment(context.Background(), class.Enrollment{
		ClassID:    classID,
		StudentID:  studentID,
		Status:     status,
		EnrolledAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	return enr
}

// CreateQuiz saves qz along with its questions, positioned in order.
func CreateQuiz(t *testing.T, repo quiz.Repository, qz quiz.Quiz, qns ...quiz.Question) (quiz.Quiz, []quiz.Question) {
	ctx := context.Background()
	now := core.NowFunc()
	qz.CreatedAt, qz.UpdatedAt = now, now
	qz, err := repo.CreateQuiz(ctx, qz)
	if err != nil {
		t.Fatalf("CreateQuiz() failed: %v", err)
	}

	saved := make([]quiz.Question, 0, len(qns))
	for i, qn := range qns {
		qn.QuizID = qz.ID
		qn.Position = i + 1
		if qn.Points == 0 {
			qn.Points = 1
		}
		qn, err = repo.CreateQuestion(ctx, qn)
		if err != nil {
			t.Fatalf("CreateQuiz() failed: %v", err)
		}
		saved = append(saved, qn)
	}
	return qz, saved
}

// SingleChoice returns a single choice question answered by the first option.
func SingleChoice(prompt string, options ...string) quiz.Question {
	return quiz.Question{
		Kind:           quiz.KindSingleChoice,
		Prompt:         prompt,
		Options:        options,
		CorrectAnswers: []string{options[0]},
		Points:         1,
	}
}
