package workflow

import "github.com/garyjia/civic-workflow/internal/domain/role"

// CitizenRequestTable returns the citizen request lifecycle
func CitizenRequestTable() *Table {
	b := NewTableBuilder(KindCitizenRequest)

	b.Configure(StatePending).
		Permit(StateInProgress, role.Clerk, role.Admin).
		Permit(StateRejected, role.Clerk, role.Admin)

	b.Configure(StateInProgress).
		Permit(StateCompleted, role.Clerk, role.Admin)

	return b.Build()
}

// PermitTable returns the permit lifecycle
func PermitTable() *Table {
	b := NewTableBuilder(KindPermit)

	b.Configure(StatePending).
		Permit(StateApproved, role.Admin, role.Clerk).
		Permit(StateRejected, role.Admin, role.Clerk)

	b.Configure(StateApproved).
		Permit(StateExpired, role.System, role.Admin)

	return b.Build()
}

// PaymentTable returns the payment lifecycle. Settlement is driven by the
// gateway callback, which acts as the system principal.
func PaymentTable() *Table {
	b := NewTableBuilder(KindPayment)

	b.Configure(StatePending).
		Permit(StateCompleted, role.System, role.Admin).
		Permit(StateFailed, role.System, role.Admin)

	b.Configure(StateCompleted).
		Permit(StateRefunded, role.FinanceOfficer, role.Admin)

	return b.Build()
}

// ProjectTable returns the project lifecycle
func ProjectTable() *Table {
	b := NewTableBuilder(KindProject)
	staff := []role.Role{role.Admin, role.UrbanPlanner}

	b.Configure(StatePlanned).
		Permit(StateInProgress, staff...).
		Permit(StateCancelled, staff...)

	b.Configure(StateInProgress).
		Permit(StateOnHold, staff...).
		Permit(StateCompleted, staff...).
		Permit(StateCancelled, staff...)

	b.Configure(StateOnHold).
		Permit(StateInProgress, staff...).
		Permit(StateCancelled, staff...)

	return b.Build()
}

// TaskTable returns the task lifecycle: any open state may move to any other
// task state. Self-loops are not configured.
func TaskTable() *Table {
	b := NewTableBuilder(KindTask)
	open := []State{StateTodo, StateInProgress, StateInReview, StateBlocked}

	for _, from := range open {
		config := b.Configure(from)
		for _, to := range KindTask.States() {
			if to == from {
				continue
			}
			config.Permit(to, role.Assignee, role.Admin, role.UrbanPlanner)
		}
	}

	return b.Build()
}

// LeaveTable returns the leave request lifecycle
func LeaveTable() *Table {
	b := NewTableBuilder(KindLeave)

	b.Configure(StatePending).
		Permit(StateApproved, role.Admin, role.HRManager).
		Permit(StateRejected, role.Admin, role.HRManager)

	return b.Build()
}

// PayrollTable returns the payroll lifecycle
func PayrollTable() *Table {
	b := NewTableBuilder(KindPayroll)

	b.Configure(StatePending).
		Permit(StateApproved, role.FinanceOfficer, role.Admin).
		Permit(StateCancelled, role.HRManager, role.Admin)

	b.Configure(StateApproved).
		Permit(StatePaid, role.FinanceOfficer, role.Admin)

	return b.Build()
}

// DefaultTables returns the compiled-in table of every kind
func DefaultTables() []*Table {
	return []*Table{
		CitizenRequestTable(),
		PermitTable(),
		PaymentTable(),
		ProjectTable(),
		TaskTable(),
		LeaveTable(),
		PayrollTable(),
	}
}

// DefaultRegistry returns a registry holding every compiled-in table
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTables()...)
	if err != nil {
		panic(err)
	}
	return r
}
