package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/departments/abc":             "/v1/departments/:id",
		"/v1/departments/abc/tasks":       "/v1/departments/:id/tasks",
		"/v1/departments/abc/tasks/extra": "/v1/departments/abc/tasks/extra",
		"/v1/tasks/01J4":                  "/v1/tasks/:id",
		"/v1/tasks/01J4?departmentId=d1":  "/v1/tasks/:id",
		"/v1/auth/login":                  "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
