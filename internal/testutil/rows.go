package testutil

import (
	"fmt"

	faker "github.com/go-faker/faker/v4"

	"github.com/roach88/livedb/internal/ir"
)

// Todo is the row shape used by randomized tests.
type Todo struct {
	Title    string `faker:"sentence"`
	Owner    string `faker:"oneof: ada, grace, linus, barbara"`
	Priority int    `faker:"boundary_start=1, boundary_end=5"`
	Done     bool
}

// User is the join partner of Todo in randomized tests.
type User struct {
	Name string `faker:"first_name"`
	Team string `faker:"oneof: core, infra, web"`
}

// FakeTodos returns n todo rows with ids 1..n. Owners reference the names
// produced by FakeUsers so joins find partners.
func FakeTodos(n int) ([]ir.IRObject, error) {
	rows := make([]ir.IRObject, 0, n)
	for i := 1; i <= n; i++ {
		var todo Todo
		if err := faker.FakeData(&todo); err != nil {
			return nil, fmt.Errorf("fake todo %d: %w", i, err)
		}
		rows = append(rows, ir.IRObject{
			"id":       ir.IRInt(i),
			"title":    ir.IRString(todo.Title),
			"owner":    ir.IRString(todo.Owner),
			"priority": ir.IRInt(todo.Priority),
			"done":     ir.IRBool(todo.Done),
		})
	}
	return rows, nil
}

// FakeUsers returns one user per owner name used by FakeTodos, keyed by name.
// Some owners are deliberately missing so outer joins produce null partners.
func FakeUsers() ([]ir.IRObject, error) {
	names := []string{"ada", "grace", "linus"}
	rows := make([]ir.IRObject, 0, len(names))
	for _, name := range names {
		var user User
		if err := faker.FakeData(&user); err != nil {
			return nil, fmt.Errorf("fake user %s: %w", name, err)
		}
		rows = append(rows, ir.IRObject{
			"name":    ir.IRString(name),
			"display": ir.IRString(user.Name),
			"team":    ir.IRString(user.Team),
		})
	}
	return rows, nil
}
