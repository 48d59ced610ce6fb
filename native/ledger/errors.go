package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrAlreadyExists              = errors.New("ledger: position already exists")
	ErrNotEmpty                   = errors.New("ledger: position not empty")
	ErrDoesNotExist               = errors.New("ledger: position does not exist")
	ErrNotOwner                   = errors.New("ledger: caller is not the position owner")
	ErrAlreadyContainsItem        = errors.New("ledger: item already recorded")
	ErrDoesNotContainItem         = errors.New("ledger: item not recorded")
	ErrInsufficientBalance        = errors.New("ledger: insufficient balance")
	ErrAmountNotReceived          = errors.New("ledger: amount not received")
	ErrPositionAtRisk             = errors.New("ledger: position at risk")
	ErrReentrantCycle             = errors.New("ledger: cycle already in progress")
	ErrRestrictedExecutionContext = errors.New("ledger: operation requires an active cycle")
	ErrInvalidAmount              = errors.New("ledger: amount must be positive")
	ErrRateBelowPar               = errors.New("ledger: observed exchange rate not above par")
	ErrNilCollaborator            = errors.New("ledger: collaborator not configured")
	ErrSettlementPrecondition     = errors.New("ledger: custody cannot cover settlement")
	ErrSettlementIncomplete       = errors.New("ledger: settlement incomplete")
)

// PositionAtRiskError reports the first touched position that failed the
// solvency check at the end of a cycle. It matches ErrPositionAtRisk.
type PositionAtRiskError struct {
	ID     PositionID
	Value  *uint256.Int
	Margin *uint256.Int
	Debt   *uint256.Int
}

func (e *PositionAtRiskError) Error() string {
	return fmt.Sprintf("ledger: position %d at risk (value %s, margin %s, debt %s)",
		e.ID, decString(e.Value), decString(e.Margin), decString(e.Debt))
}

func (e *PositionAtRiskError) Is(target error) bool { return target == ErrPositionAtRisk }

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
