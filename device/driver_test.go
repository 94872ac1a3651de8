package device

import "testing"

func TestRegisterDriverKeepsOrder(t *testing.T) {
	defer resetRegistry()

	origlist := []*DriverInfo{
		{Order: DetectOrderFDT},
		{Order: DetectOrderLast},
		{Order: DetectOrderBeforeFDT},
		{Order: DetectOrderEarly},
	}

	for _, drv := range origlist {
		if err := RegisterDriver(drv); err != nil {
			t.Fatal(err)
		}
	}

	registeredList := DriverList()
	if exp, got := len(origlist), len(registeredList); got != exp {
		t.Fatalf("expected DriverList() to return %d entries; got %d", exp, got)
	}

	for i := 1; i < len(registeredList); i++ {
		if registeredList[i-1].Order > registeredList[i].Order {
			t.Fatalf("expected DriverList() to be sorted by detection order; entry %d breaks it", i)
		}
	}

	expOrder := []int{3, 2, 0, 1}
	for i, exp := range expOrder {
		if registeredList[i] != origlist[exp] {
			t.Errorf("expected sorted entry %d to be %v; got %v", i, origlist[exp], registeredList[i])
		}
	}
}

func TestRegisterDriverFull(t *testing.T) {
	defer resetRegistry()

	for i := 0; i < maxDrivers; i++ {
		if err := RegisterDriver(&DriverInfo{Order: DetectOrderLast}); err != nil {
			t.Fatalf("[driver %d] unexpected error: %v", i, err)
		}
	}

	if err := RegisterDriver(&DriverInfo{}); err != errTooManyDrivers {
		t.Fatalf("expected errTooManyDrivers; got %v", err)
	}
}
