// Package install implements the ordered, reversible installer action
// runner (spec.md §4.8): a UI-agnostic list of steps, each carrying
// descriptive text and an ok/failed outcome, driven by a caller-supplied
// iterator contract (Next/Run/Back) rather than pushing its own UI.
//
// Grounded on original_source/src/gui/installer.cpp's ActionInterface
// (run/text/subject/ok) and its %var% expansion of an input map merged
// with platform values.
package install

import "strings"

// Action is one installer step. Run performs the action; Text and
// Subject describe it before it runs; Ok and Failed describe its
// outcome afterward.
type Action interface {
	Text() string
	Subject() string
	Run() error
	Ok() string
	Failed(err error) string
}

// Vars is the %var%-expansion environment: page-output values merged
// with platform-derived values (installer.cpp's "input map" and
// "internal map of platform values").
type Vars map[string]string

// Expand replaces every %name% occurrence in s with vars[name]; unknown
// names are left untouched.
func (v Vars) Expand(s string) string {
	for name, value := range v {
		s = strings.ReplaceAll(s, "%"+name+"%", value)
	}
	return s
}

// Outcome records the result of running one action, captured rather
// than raised so a failure aborts forward progress without unwinding
// the whole installer (spec.md §4.8: "exceptions are captured as error
// outcomes and abort forward progress but allow back() to retry").
type Outcome struct {
	Action  Action
	Err     error
	Message string
}

// Runner drives a fixed action list forward and back. It never retries
// automatically: a failed Run leaves the cursor on the failing action
// so the caller can fix the underlying condition and Run again, or Back
// up to reconsider an earlier step.
type Runner struct {
	actions  []Action
	vars     Vars
	index    int
	outcomes []Outcome
}

// NewRunner returns a Runner over actions. vars is kept with the Runner
// but is not applied to the actions: Run expands nothing, and each
// action uses its fields exactly as given.
func NewRunner(actions []Action, vars Vars) *Runner {
	return &Runner{actions: actions, vars: vars}
}

// Done reports whether every action has run successfully.
func (r *Runner) Done() bool { return r.index >= len(r.actions) }

// Current returns the action the next Run call will execute, or false
// if Done.
func (r *Runner) Current() (Action, bool) {
	if r.Done() {
		return nil, false
	}
	return r.actions[r.index], true
}

// Run executes the current action. On success the cursor advances; on
// failure it stays put and the outcome is recorded for Outcomes.
func (r *Runner) Run() Outcome {
	a, ok := r.Current()
	if !ok {
		return Outcome{}
	}
	err := a.Run()
	var o Outcome
	if err != nil {
		o = Outcome{Action: a, Err: err, Message: a.Failed(err)}
	} else {
		o = Outcome{Action: a, Message: a.Ok()}
		r.index++
	}
	r.outcomes = append(r.outcomes, o)
	return o
}

// Back moves the cursor to the previous action so it can be retried,
// reporting whether there was one.
func (r *Runner) Back() bool {
	if r.index == 0 {
		return false
	}
	r.index--
	return true
}

// Outcomes returns every recorded Run result in order, including
// retries.
func (r *Runner) Outcomes() []Outcome { return append([]Outcome(nil), r.outcomes...) }

// RunAll runs every remaining action in order, stopping at the first
// failure. It returns the outcomes produced, including the failing one
// if any.
func (r *Runner) RunAll() []Outcome {
	var out []Outcome
	for !r.Done() {
		o := r.Run()
		out = append(out, o)
		if o.Err != nil {
			break
		}
	}
	return out
}
