// Package esp302 speaks the ASCII command set of the Newport ESP302 motion
// controller on top of a link.Dispatcher.
//
// Commands have the form "<axis><mnemonic><parameter>", e.g. "1PA12.5" moves
// axis 1 to 12.5 units. Arguments are validated before anything is queued;
// invalid ones fail with an error matching link.ErrInvalidArgument.
//
// Numeric arguments and replies use decimal.Decimal so that positions are
// sent exactly as given.
package esp302
