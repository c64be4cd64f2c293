package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/premath-kernel/issuekernel/internal/transport"
)

var transportCmd = &cobra.Command{Use: "transport", Short: "Transport kernel dispatch and self-check"}

func init() {
	transportCmd.AddCommand(transportDispatchCmd, transportWorldRouteBindingCmd, transportCheckCmd)

	transportDispatchCmd.Flags().String("action", "", "one of the eight transport actions")
	transportDispatchCmd.Flags().String("fiber-id", "", "fiber.* actions: fiber id (derived from task-ref/parent-fiber-id if empty)")
	transportDispatchCmd.Flags().String("task-ref", "", "fiber.spawn: task reference")
	transportDispatchCmd.Flags().String("parent-fiber-id", "", "fiber.spawn: parent fiber id")
	transportDispatchCmd.Flags().String("scope-ref", "", "fiber.spawn: scope reference")
	transportDispatchCmd.Flags().StringSlice("join-set", nil, "fiber.join: fiber ids to join")
	transportDispatchCmd.Flags().String("result-ref", "", "fiber.join: result reference")
	transportDispatchCmd.Flags().String("reason", "", "fiber.cancel: cancellation reason")

	transportWorldRouteBindingCmd.Flags().String("action", "", "action whose world route binding to report")
}

var transportDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch a fiber.* transport action (synthetic lifecycle envelope)",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		switch action {
		case transport.ActionFiberSpawn:
			taskRef, _ := cmd.Flags().GetString("task-ref")
			parentFiberID, _ := cmd.Flags().GetString("parent-fiber-id")
			scopeRef, _ := cmd.Flags().GetString("scope-ref")
			fiberID, _ := cmd.Flags().GetString("fiber-id")
			return printEnvelope(transport.FiberSpawn(transport.FiberSpawnRequest{
				FiberID: fiberID, TaskRef: taskRef, ParentFiberID: parentFiberID, ScopeRef: scopeRef,
			}))
		case transport.ActionFiberJoin:
			fiberID, _ := cmd.Flags().GetString("fiber-id")
			joinSet, _ := cmd.Flags().GetStringSlice("join-set")
			resultRef, _ := cmd.Flags().GetString("result-ref")
			return printEnvelope(transport.FiberJoin(transport.FiberJoinRequest{
				FiberID: fiberID, JoinSet: joinSet, ResultRef: resultRef,
			}))
		case transport.ActionFiberCancel:
			fiberID, _ := cmd.Flags().GetString("fiber-id")
			reason, _ := cmd.Flags().GetString("reason")
			return printEnvelope(transport.FiberCancel(transport.FiberCancelRequest{FiberID: fiberID, Reason: reason}))
		default:
			return fmt.Errorf("transport dispatch only handles fiber.* actions directly; use `issue`/`dep` subcommands for lease and mutation actions, got %q", action)
		}
	},
}

var transportWorldRouteBindingCmd = &cobra.Command{
	Use:   "world-route-binding",
	Short: "Report the static world route binding for a transport action",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		binding, ok := transport.WorldBindingForAction(action)
		if !ok {
			return fmt.Errorf("unknown transport action %q", action)
		}
		return printEnvelope(binding)
	},
}

var transportCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the transport action registry's well-formedness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printEnvelope(transport.Check())
	},
}
