/*
Package tmexio provides a typed dispatch pipeline for socket-style events.

# Overview

A transport hands tmexio a ClientEvent: the event name, the sending
connection's SID, the positional arguments sent by the peer, and an opaque
transport context. A handler then runs one dispatch:

 1. Parse the body: the single argument is validated against the handler's
    BodyModel (or must be absent when the handler declares none)
 2. Extract markers: values read from the event, such as the current user
 3. Resolve dependencies in order, each at most once per dispatch
 4. Invoke the handler function with the assembled Kwargs
 5. Package the Result, or the EventException, into an Ack

Scoped resources acquired by contextual dependencies are released when the
dispatch ends, in reverse order, on success, on error, on cancellation and
on panic.

# Basic Usage

	var CurrentUser = tmexio.NewMarker("current_user", func(e tmexio.ClientEvent) any {
	    return e.Context.(*Session).User
	})

	var LoadWallet = tmexio.NewValueDependency("wallet",
	    func(ctx context.Context, kw tmexio.Kwargs) (any, error) {
	        return wallets.Get(ctx, tmexio.Arg[string](kw, "user"))
	    },
	    tmexio.FromMarker(CurrentUser, "user"),
	)

	var ErrInsufficientFunds = tmexio.NewEventException(409, "Insufficient funds")

	router := tmexio.NewRouter().
	    On("wallet.withdraw", withdraw,
	        tmexio.WithBodyModel(tmexio.MustSchemaBody(`{
	            "type": "object",
	            "properties": {"amount": {"type": "number", "minimum": 1}},
	            "required": ["amount"]
	        }`)),
	        tmexio.FromBodyField("amount", "amount"),
	        tmexio.FromDependency(LoadWallet, "wallet"),
	        tmexio.WithPossibleExceptions(ErrInsufficientFunds),
	    )

	compiled, err := router.Compile()
	ack, err := compiled.Dispatch(ctx, event)

# Errors

Handlers fail in two ways. Returning an *EventException (or anything that
wraps one) is a declared business error: it becomes an error Ack with its
code and message and never reaches the transport as a failure. Any other
error is a bug and is returned to the transport unchanged.

Each handler declares the exceptions it may raise with
WithPossibleExceptions. Raising an undeclared exception does not change the
response; it logs a warning so documentation drift is visible.

# Handler Variants

  - EventHandler: request/acknowledgement, always answers with an Ack
  - ConnectHandler: admission control, refuses with *ConnectionRefusedError
  - DisconnectHandler: teardown, no body and no acknowledgement

# Preconditions

Dependency graphs must be acyclic. A parameter name may be bound only once
per handler or dependency; binding it twice panics at construction.
*/
package tmexio
