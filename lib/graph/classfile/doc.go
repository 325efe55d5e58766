// Package classfile reads compiled JVM classes into graph nodes.
//
// Only what affects dependents is kept: the class name, super class,
// interfaces, access flags, the non-private and non-synthetic fields and
// methods, and the classes and members referenced from the constant pool.
// Parse is the node function used when extracting library graphs; it
// rejects entries without ABI such as resources, module-info and
// package-info, synthetic classes and bytes that are not a class file.
package classfile
