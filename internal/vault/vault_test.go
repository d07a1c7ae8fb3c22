package vault

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeriveVaultID(t *testing.T) {
	t.Run("should be deterministic", func(t *testing.T) {
		owner := uuid.New()
		assert.Equal(t, DeriveVaultID(owner), DeriveVaultID(owner))
	})

	t.Run("should differ per owner", func(t *testing.T) {
		assert.NotEqual(t, DeriveVaultID(uuid.New()), DeriveVaultID(uuid.New()))
	})

	t.Run("should not equal the owner id", func(t *testing.T) {
		owner := uuid.New()
		assert.NotEqual(t, owner, DeriveVaultID(owner))
	})
}

func TestCheckedArithmetic(t *testing.T) {
	t.Run("should add within range", func(t *testing.T) {
		sum, err := checkedAdd(40, 2)
		assert.NoError(t, err)
		assert.Equal(t, uint64(42), sum)
	})

	t.Run("should fail on overflow", func(t *testing.T) {
		_, err := checkedAdd(math.MaxUint64, 1)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("should subtract within range", func(t *testing.T) {
		diff, err := checkedSub(42, 2)
		assert.NoError(t, err)
		assert.Equal(t, uint64(40), diff)
	})

	t.Run("should fail on underflow", func(t *testing.T) {
		_, err := checkedSub(1, 2)
		assert.ErrorIs(t, err, ErrUnderflow)
	})
}

func TestVaultPrimitives(t *testing.T) {
	newVault := func() *Vault {
		return &Vault{Owner: uuid.New(), CustodyAccount: uuid.New()}
	}

	t.Run("credit should raise total, available and deposited together", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(100))
		assert.Equal(t, uint64(100), v.TotalBalance)
		assert.Equal(t, uint64(100), v.AvailableBalance)
		assert.Equal(t, uint64(0), v.LockedBalance)
		assert.Equal(t, uint64(100), v.TotalDeposited)
	})

	t.Run("debit should lower total and available and raise withdrawn", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(100))
		assert.NoError(t, v.debit(60))
		assert.Equal(t, uint64(40), v.TotalBalance)
		assert.Equal(t, uint64(40), v.AvailableBalance)
		assert.Equal(t, uint64(60), v.TotalWithdrawn)
	})

	t.Run("moveToLocked should keep total unchanged", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(100))
		assert.NoError(t, v.moveToLocked(40))
		assert.Equal(t, uint64(100), v.TotalBalance)
		assert.Equal(t, uint64(40), v.LockedBalance)
		assert.Equal(t, uint64(60), v.AvailableBalance)
	})

	t.Run("moveToAvailable should reverse moveToLocked", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(100))
		assert.NoError(t, v.moveToLocked(40))
		assert.NoError(t, v.moveToAvailable(40))
		assert.Equal(t, uint64(0), v.LockedBalance)
		assert.Equal(t, uint64(100), v.AvailableBalance)
	})

	t.Run("failed credit should leave every field unchanged", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(100))
		v.TotalDeposited = math.MaxUint64

		err := v.credit(1)
		assert.ErrorIs(t, err, ErrOverflow)
		assert.Equal(t, uint64(100), v.TotalBalance)
		assert.Equal(t, uint64(100), v.AvailableBalance)
		assert.Equal(t, uint64(math.MaxUint64), v.TotalDeposited)
	})

	t.Run("failed moveToLocked should leave every field unchanged", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(100))
		v.LockedBalance = math.MaxUint64

		err := v.moveToLocked(50)
		assert.ErrorIs(t, err, ErrOverflow)
		assert.Equal(t, uint64(100), v.AvailableBalance)
		assert.Equal(t, uint64(math.MaxUint64), v.LockedBalance)
	})

	t.Run("balance identity should hold across paired moves", func(t *testing.T) {
		v := newVault()
		assert.NoError(t, v.credit(1000))
		for _, m := range []uint64{1, 999, 500, 250} {
			assert.NoError(t, v.moveToLocked(m))
			assert.Equal(t, v.TotalBalance, v.LockedBalance+v.AvailableBalance)
			assert.NoError(t, v.moveToAvailable(m))
			assert.Equal(t, v.TotalBalance, v.LockedBalance+v.AvailableBalance)
		}
	})
}
