package typer

import "github.com/gen2brain/beeep"

type beeepNotifier struct{}

func (beeepNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}
